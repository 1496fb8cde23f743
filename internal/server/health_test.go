package server_test

import (
	"context"
	"testing"

	"connectrpc.com/connect"
	"connectrpc.com/grpchealth"

	"github.com/dantte-lp/gopimd/internal/server"
	"github.com/dantte-lp/gopimd/pkg/pimapi"
)

func TestHealthChecker(t *testing.T) {
	t.Parallel()

	f := setupTestServer(t)
	checker := server.NewHealthChecker(f.ctrl, f.loop)

	tests := []struct {
		service string
		want    grpchealth.Status
		code    connect.Code
	}{
		{service: "", want: grpchealth.StatusServing},
		{service: pimapi.ServiceName, want: grpchealth.StatusServing},
		{service: pimapi.InstanceHealthPrefix + "red", want: grpchealth.StatusServing},
		{service: pimapi.InstanceHealthPrefix + "blue", want: grpchealth.StatusNotServing},
		{service: pimapi.InstanceHealthPrefix + "green", code: connect.CodeNotFound},
		{service: "example.v1.Unknown", code: connect.CodeNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.service, func(t *testing.T) {
			t.Parallel()

			resp, err := checker.Check(context.Background(), &grpchealth.CheckRequest{Service: tt.service})
			if tt.code != 0 {
				wantCode(t, err, tt.code)
				return
			}
			if err != nil {
				t.Fatalf("Check(%q): %v", tt.service, err)
			}
			if resp.Status != tt.want {
				t.Errorf("Check(%q) = %v, want %v", tt.service, resp.Status, tt.want)
			}
		})
	}
}

func TestHealthCheckerFollowsInstanceState(t *testing.T) {
	t.Parallel()

	f := setupTestServer(t)
	checker := server.NewHealthChecker(f.ctrl, f.loop)
	ctx := context.Background()
	req := &grpchealth.CheckRequest{Service: pimapi.InstanceHealthPrefix + "red"}

	if err := f.loop.Do(ctx, func() error {
		f.ctrl.VRFDown(redVRF.ID)
		return nil
	}); err != nil {
		t.Fatalf("VRFDown: %v", err)
	}

	resp, err := checker.Check(ctx, req)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if resp.Status != grpchealth.StatusNotServing {
		t.Errorf("status after VRFDown = %v, want not serving", resp.Status)
	}

	if err := f.loop.Do(ctx, func() error {
		return f.ctrl.VRFUp(ctx, redVRF.ID)
	}); err != nil {
		t.Fatalf("VRFUp: %v", err)
	}

	resp, err = checker.Check(ctx, req)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if resp.Status != grpchealth.StatusServing {
		t.Errorf("status after VRFUp = %v, want serving", resp.Status)
	}
}
