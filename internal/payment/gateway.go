package payment

import (
	"context"
	"errors"
	"math/rand/v2"
)

var ErrChargeDeclined = errors.New("charge declined")

// Gateway is the external charge collaborator. The production binding is a
// simulated gateway; the retry policy around it is the part that matters.
type Gateway interface {
	Charge(ctx context.Context, orderID string, amount int64) error
}

// SimulatedGateway declines a fixed fraction of charges at random.
type SimulatedGateway struct {
	successRate float64
}

func NewSimulatedGateway(successRate float64) *SimulatedGateway {
	return &SimulatedGateway{successRate: successRate}
}

func (g *SimulatedGateway) Charge(ctx context.Context, orderID string, amount int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if rand.Float64() < g.successRate {
		return nil
	}
	return ErrChargeDeclined
}
