package workbay

import (
	"context"
	"testing"
	"time"

	"pkt.systems/workbay/core"
)

func TestServerStopClosesWorkers(t *testing.T) {
	service := &trackingService{}
	ctx, cancel := context.WithCancel(context.Background())
	server := &compositeServer{
		service: service,
		ctx:     ctx,
		cancel:  cancel,
		started: true,
	}
	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	if err := server.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if service.shutdowns != 1 {
		t.Fatalf("expected Shutdown to be called, got %d", service.shutdowns)
	}
	select {
	case <-ctx.Done():
	default:
		t.Fatalf("expected server context to be canceled")
	}
}

func TestServerWaitRequiresStart(t *testing.T) {
	server := &compositeServer{}
	if err := server.Wait(); err == nil {
		t.Fatalf("expected error waiting on unstarted server")
	}
}

// trackingService embeds the interface so only Shutdown needs a body.
type trackingService struct {
	core.Service
	shutdowns int
}

func (s *trackingService) Shutdown(context.Context) error {
	s.shutdowns++
	return nil
}
