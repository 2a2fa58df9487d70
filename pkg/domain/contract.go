package domain

import (
	"context"
)

// Contract is the status query answered by a launcher's control API.
// service is "" for the launcher as a whole or a unit topic.
type Contract interface {
	Status(ctx context.Context, service string) (string, error)
}
