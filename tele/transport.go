package tele

import (
	"context"

	"github.com/temoto/mtq-tester/log2"
	tele_config "github.com/temoto/mtq-tester/tele/config"
)

// Transporter delivers serialized messages. Send* block at most network timeout,
// false means "not delivered, retry later".
type Transporter interface {
	Init(ctx context.Context, log *log2.Log, teleConfig tele_config.Config, willPayload []byte) error
	SendTelemetry(payload []byte) bool
	SendState(payload []byte) bool
	Close()
}
