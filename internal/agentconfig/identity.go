package agentconfig

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// identityFile is the on-disk shape of the agent's persisted local
// identity — an ed25519 keypair whose public key, base64-encoded and
// truncated, seeds a stable machine_id when the operator hasn't set one
// explicitly. Loaded once at startup and never regenerated, the same
// load-or-create-on-disk contract the teacher uses for its own identity
// key, adapted here to a different payload.
type identityFile struct {
	PublicKey  string `json:"public_key"`
	PrivateKey string `json:"private_key"`
	MachineID  string `json:"machine_id"`
}

// loadOrCreateMachineID returns cfg.MachineID verbatim if the operator set
// one explicitly. Otherwise it loads (or creates, on first run) an identity
// file alongside configPath and derives a stable machine_id from it.
func loadOrCreateMachineID(cfg Config, configPath string) (string, error) {
	if cfg.MachineID != "" {
		return cfg.MachineID, nil
	}

	identityPath := identityFilePath(configPath)

	if data, err := os.ReadFile(identityPath); err == nil {
		var id identityFile
		if err := json.Unmarshal(data, &id); err != nil {
			return "", fmt.Errorf("agentconfig: parse identity file %s: %w", identityPath, err)
		}
		if id.MachineID == "" {
			return "", fmt.Errorf("agentconfig: identity file %s has empty machine_id", identityPath)
		}
		return id.MachineID, nil
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("agentconfig: read identity file %s: %w", identityPath, err)
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", fmt.Errorf("agentconfig: generate identity key: %w", err)
	}

	machineID, err := deriveMachineID(pub)
	if err != nil {
		return "", err
	}

	id := identityFile{
		PublicKey:  base64.StdEncoding.EncodeToString(pub),
		PrivateKey: base64.StdEncoding.EncodeToString(priv),
		MachineID:  machineID,
	}
	data, err := json.MarshalIndent(id, "", "  ")
	if err != nil {
		return "", fmt.Errorf("agentconfig: marshal identity file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(identityPath), 0o700); err != nil {
		return "", fmt.Errorf("agentconfig: create identity dir: %w", err)
	}
	if err := os.WriteFile(identityPath, data, 0o600); err != nil {
		return "", fmt.Errorf("agentconfig: write identity file %s: %w", identityPath, err)
	}
	return machineID, nil
}

func deriveMachineID(pub ed25519.PublicKey) (string, error) {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "host"
	}
	suffix := base64.RawURLEncoding.EncodeToString(pub)
	if len(suffix) > 8 {
		suffix = suffix[:8]
	}
	return fmt.Sprintf("%s-%s", hostname, suffix), nil
}

func identityFilePath(configPath string) string {
	dir := filepath.Dir(configPath)
	if dir == "" || dir == "." {
		home, err := os.UserHomeDir()
		if err == nil {
			dir = filepath.Join(home, ".fleet-agent")
		}
	}
	return filepath.Join(dir, "identity.json")
}
