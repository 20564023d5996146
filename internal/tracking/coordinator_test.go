package tracking

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Kwendataxi/kwenda-sub020/internal/models"
)

func TestCoordinatorSessionsAreIndependent(t *testing.T) {
	samplers := map[string]*scriptedSampler{}
	factory := func(subjectID string, role models.Role) (Sampler, error) {
		s := &scriptedSampler{samples: []models.Sample{sampleAt(0, 0)}}
		if subjectID == "blocked" {
			s.openErr = models.ErrPermissionDenied
		}
		samplers[subjectID] = s
		return s, nil
	}
	cfg := testConfig()
	cfg.Overrides = map[string]models.ProfileConfig{"courier": {Interval: time.Millisecond}}
	tx := &recordingTransmitter{}
	c := NewCoordinator(cfg, factory, tx)
	ctx := context.Background()

	a, err := c.Start(ctx, "a", models.RoleCourier)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Start(ctx, "b", models.RoleRecipient); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Start(ctx, "blocked", models.RoleCourier); !errors.Is(err, models.ErrPermissionDenied) {
		t.Fatalf("blocked err = %v", err)
	}
	if _, ok := c.Session("blocked"); ok {
		t.Error("failed session was registered")
	}

	if !c.Stop("a") {
		t.Fatal("stop a reported no session")
	}
	if !samplers["a"].isClosed() {
		t.Error("a's sampler not released")
	}
	if samplers["b"].isClosed() {
		t.Error("stopping a touched b")
	}
	if err := a.Start(ctx); !errors.Is(err, models.ErrSessionStopped) {
		t.Errorf("restart of stopped session err = %v", err)
	}

	stats := c.Stats()
	if len(stats) != 1 || stats[0].SubjectID != "b" {
		t.Fatalf("stats = %+v", stats)
	}
	if _, ok := c.Health()["sessions"].(map[string]any)["b"]; !ok {
		t.Error("health missing session b")
	}

	c.StopAll()
	if !samplers["b"].isClosed() || len(c.Stats()) != 0 {
		t.Error("StopAll left sessions running")
	}
}

func TestCoordinatorRestartReplacesSession(t *testing.T) {
	var created []*scriptedSampler
	factory := func(subjectID string, role models.Role) (Sampler, error) {
		s := &scriptedSampler{}
		created = append(created, s)
		return s, nil
	}
	c := NewCoordinator(testConfig(), factory, &recordingTransmitter{})
	ctx := context.Background()

	first, _ := c.Start(ctx, "s", models.RoleCourier)
	second, err := c.Start(ctx, "s", models.RoleDelivery)
	if err != nil {
		t.Fatal(err)
	}
	defer c.StopAll()

	if first == second || !created[0].isClosed() {
		t.Error("previous session was not stopped")
	}
	if got, _ := c.Session("s"); got != second || got.Profile().Role != models.RoleDelivery {
		t.Error("registry does not hold the new session")
	}
}

func TestCoordinatorUnknownRole(t *testing.T) {
	c := NewCoordinator(testConfig(), func(string, models.Role) (Sampler, error) {
		return &scriptedSampler{}, nil
	}, &recordingTransmitter{})
	if _, err := c.Start(context.Background(), "x", models.Role("pilot")); err == nil {
		t.Fatal("expected unknown role error")
	}
}
