//go:build !linux

package sensors

import (
	"context"
	"fmt"

	"github.com/atlasfleet/atlas/internal/domain"
)

func readPower(ctx context.Context) (domain.PowerSnapshot, error) {
	return domain.PowerSnapshot{}, fmt.Errorf("no battery sensor on this platform")
}
