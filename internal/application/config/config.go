package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/pion/webrtc/v4"
)

type Config struct {
	Debug  bool   `env:"DEBUG" envDefault:"false"`
	Port   string `env:"PORT" envDefault:"3000"`
	Domain string `env:"DOMAIN" envDefault:"http://localhost:3000"`

	// SessionSecret signs the per-room participant tokens handed out on
	// create/join.
	SessionSecret string `env:"SESSION_SECRET,required"`

	Rooms    RoomsConfig
	Polling  PollingConfig
	Resume   ResumeConfig
	Stun     StunConfig
	Postgres PostgresConfig

	ICEServers []webrtc.ICEServer
}

type RoomsConfig struct {
	// Absolute room lifetimes. Sessions are short-lived; once the TTL is
	// reached the room is gone regardless of activity.
	BattleTTL    time.Duration `env:"BATTLE_ROOM_TTL" envDefault:"2h"`
	ClassroomTTL time.Duration `env:"CLASSROOM_ROOM_TTL" envDefault:"8h"`

	SweepInterval time.Duration `env:"ROOM_SWEEP_INTERVAL" envDefault:"1m"`
}

type PollingConfig struct {
	// Fast cadence while waiting/ready, slow cadence during play.
	WaitingInterval time.Duration `env:"POLL_WAITING_INTERVAL" envDefault:"2s"`
	PlayingInterval time.Duration `env:"POLL_PLAYING_INTERVAL" envDefault:"10s"`
}

type ResumeConfig struct {
	Dir          string        `env:"RESUME_DIR" envDefault:".shenbi"`
	BattleTTL    time.Duration `env:"RESUME_BATTLE_TTL" envDefault:"30m"`
	ClassroomTTL time.Duration `env:"RESUME_CLASSROOM_TTL" envDefault:"6h"`
}

type StunConfig struct {
	URLs []string `env:"STUN_URLS" envDefault:"stun:stun.l.google.com:19302"`

	TurnHost     string `env:"TURN_HOST"`
	TurnUsername string `env:"TURN_USERNAME"`
	TurnPassword string `env:"TURN_PASSWORD"`
}

type PostgresConfig struct {
	URL string `env:"POSTGRES_URL"`

	Host     string `env:"POSTGRES_HOST" envDefault:"localhost"`
	Port     int    `env:"POSTGRES_PORT" envDefault:"5432"`
	User     string `env:"POSTGRES_USER" envDefault:"postgres"`
	Password string `env:"POSTGRES_PASSWORD" envDefault:"postgres"`
	Name     string `env:"POSTGRES_NAME" envDefault:"shenbi"`
	SSL      string `env:"POSTGRES_SSL" envDefault:"disable"`

	// Enabled gates the session archive; the server runs fully in-memory
	// without it.
	Enabled bool `env:"POSTGRES_ENABLED" envDefault:"false"`
}

func (p *PostgresConfig) DSN() string {
	if p.URL != "" {
		return p.URL
	}

	return fmt.Sprintf("postgresql://%s:%s@%s:%d/%s?sslmode=%s",
		p.User,
		p.Password,
		p.Host,
		p.Port,
		p.Name,
		p.SSL,
	)
}

func New() (*Config, error) {
	c, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	c.ICEServers = []webrtc.ICEServer{
		{URLs: c.Stun.URLs},
	}

	if c.Stun.TurnHost != "" {
		c.ICEServers = append(c.ICEServers,
			webrtc.ICEServer{
				URLs:       []string{fmt.Sprintf("turn:%s?transport=udp", c.Stun.TurnHost)},
				Username:   c.Stun.TurnUsername,
				Credential: c.Stun.TurnPassword,
			},
			webrtc.ICEServer{
				URLs:       []string{fmt.Sprintf("turn:%s?transport=tcp", c.Stun.TurnHost)},
				Username:   c.Stun.TurnUsername,
				Credential: c.Stun.TurnPassword,
			},
		)
	}

	return &c, nil
}
