package domain

import "time"

// CommandType enumerates the operations the server can push to an agent,
// spec §3/§4.9.
type CommandType string

const (
	CommandSpeedtestNow  CommandType = "speedtest_now"
	CommandReloadConfig  CommandType = "reload_config"
	CommandQuiesce       CommandType = "quiesce"
	CommandCollectDiag   CommandType = "collect_diag"
)

// CommandStatus tracks a command's lifecycle: created → delivered → done.
type CommandStatus string

const (
	CommandPending   CommandStatus = "pending"
	CommandDelivered CommandStatus = "delivered"
	CommandDone      CommandStatus = "done"
)

// Command is a server-initiated operation delivered to an agent via the
// /report response. The server marks it done when a result for it arrives,
// either in a report's command_results or via
// POST /api/fleet/commands/{id}/result; internal/reporter sends neither.
type Command struct {
	CommandID   string            `json:"command_id"`
	MachineID   string            `json:"machine_id"`
	Type        CommandType       `json:"type"`
	Args        map[string]any    `json:"args,omitempty"`
	Status      CommandStatus     `json:"status"`
	CreatedAt   time.Time         `json:"created_at"`
	DeliveredAt *time.Time        `json:"delivered_at,omitempty"`
	Result      *CommandResult    `json:"result,omitempty"`
}

// KnownCommandTypes lists the executor-recognized command types. A type
// outside this set is still enqueueable (the server is agnostic) but the
// agent's executor returns {status:"unsupported"} for it.
var KnownCommandTypes = map[CommandType]bool{
	CommandSpeedtestNow: true,
	CommandReloadConfig: true,
	CommandQuiesce:      true,
	CommandCollectDiag:  true,
}
