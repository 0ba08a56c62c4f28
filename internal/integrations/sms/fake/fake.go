package fake

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/BearBump/SimKeeper/internal/integrations/sms"
)

// FakeClient accepts every message (unless Err is set) and remembers what was sent.
// Used when no Twilio credentials are configured for a demo run, and in tests.
type FakeClient struct {
	mu   sync.Mutex
	sent []sms.Message
	err  error
}

func New() *FakeClient { return &FakeClient{} }

// FailWith makes every subsequent Send return err (nil to recover).
func (f *FakeClient) FailWith(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *FakeClient) Send(ctx context.Context, msg sms.Message) (sms.Result, error) {
	if err := ctx.Err(); err != nil {
		return sms.Result{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return sms.Result{}, f.err
	}
	f.sent = append(f.sent, msg)

	h := fnv.New32a()
	_, _ = h.Write([]byte(msg.To))
	_, _ = h.Write([]byte("|"))
	_, _ = h.Write([]byte(msg.Body))

	return sms.Result{
		SID:     fmt.Sprintf("FAKE%08x", h.Sum32()),
		Message: fmt.Sprintf("Sent %q to server.", msg.Body),
	}, nil
}

func (f *FakeClient) Sent() []sms.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sms.Message(nil), f.sent...)
}
