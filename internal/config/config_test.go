package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != "0.0.0.0:9000" {
		t.Fatalf("unexpected default server addr: %q", cfg.Server.Addr)
	}
	if cfg.Room.HistoryLimit != 100 {
		t.Fatalf("unexpected default history limit: %d", cfg.Room.HistoryLimit)
	}
	if cfg.Room.TTL != 300*time.Second {
		t.Fatalf("unexpected default room ttl: %v", cfg.Room.TTL)
	}
}

func TestRoomTTLSecsEnvOverridesAsPlainSeconds(t *testing.T) {
	t.Setenv("ROOM_TTL_SECS", "45")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Room.TTL != 45*time.Second {
		t.Fatalf("expected ROOM_TTL_SECS=45 to decode as 45s, got %v", cfg.Room.TTL)
	}
}

func TestServerAddrEnvAlias(t *testing.T) {
	t.Setenv("SERVER_ADDR", "127.0.0.1:7000")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != "127.0.0.1:7000" {
		t.Fatalf("expected SERVER_ADDR override, got %q", cfg.Server.Addr)
	}
}

func TestInvalidRoomTTLSecsIsError(t *testing.T) {
	t.Setenv("ROOM_TTL_SECS", "not-a-number")
	if _, err := Load(""); err == nil {
		t.Fatal("expected an error for a non-numeric ROOM_TTL_SECS")
	}
	os.Unsetenv("ROOM_TTL_SECS")
}
