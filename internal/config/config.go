// Package config loads node configuration from flags and environment
// variables via viper, covering every option in spec.md's configuration
// table.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Master holds master-node configuration.
type Master struct {
	Addr                string
	Secondaries         []string
	WriteConcernTimeout time.Duration
	RetryDelayInitial   time.Duration
	RetryDelayMax       time.Duration
	RequestTimeout      time.Duration
	HeartbeatInterval   time.Duration
	HeartbeatTimeout    time.Duration
	HeartbeatThreshold  int
}

// Secondary holds secondary-node configuration.
type Secondary struct {
	Addr             string
	MasterURL        string
	ServerID         string
	ReplicationDelay time.Duration
	ErrorRate        float64
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

// LoadMaster reads master configuration from flags (already parsed into
// fs) layered over environment variables, per spec.md §6.
func LoadMaster(fs *pflag.FlagSet) (Master, error) {
	v := newViper()
	bindMasterDefaults(v)
	if err := v.BindPFlags(fs); err != nil {
		return Master{}, err
	}

	var secondaries []string
	if raw := v.GetString("secondaries"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			s = strings.TrimSpace(s)
			if s != "" {
				secondaries = append(secondaries, s)
			}
		}
	}

	return Master{
		Addr:                v.GetString("addr"),
		Secondaries:         secondaries,
		WriteConcernTimeout: time.Duration(v.GetInt("write-concern-timeout-seconds")) * time.Second,
		RetryDelayInitial:   v.GetDuration("retry-delay-initial"),
		RetryDelayMax:       v.GetDuration("retry-delay-max"),
		RequestTimeout:      v.GetDuration("secondary-request-timeout"),
		HeartbeatInterval:   time.Duration(v.GetInt("heartbeat-interval-seconds")) * time.Second,
		HeartbeatTimeout:    time.Duration(v.GetInt("heartbeat-timeout-seconds")) * time.Second,
		HeartbeatThreshold:  v.GetInt("heartbeat-unhealthy-threshold"),
	}, nil
}

func bindMasterDefaults(v *viper.Viper) {
	v.SetDefault("addr", ":8080")
	v.SetDefault("secondaries", "")
	v.SetDefault("write-concern-timeout-seconds", 5)
	v.SetDefault("retry-delay-initial", 100*time.Millisecond)
	v.SetDefault("retry-delay-max", 5*time.Second)
	v.SetDefault("secondary-request-timeout", 2*time.Second)
	v.SetDefault("heartbeat-interval-seconds", 2)
	v.SetDefault("heartbeat-timeout-seconds", 1)
	v.SetDefault("heartbeat-unhealthy-threshold", 3)
}

// LoadSecondary reads secondary configuration from flags layered over
// environment variables.
func LoadSecondary(fs *pflag.FlagSet) (Secondary, error) {
	v := newViper()
	bindSecondaryDefaults(v)
	if err := v.BindPFlags(fs); err != nil {
		return Secondary{}, err
	}

	serverID := v.GetString("server-id")
	if serverID == "" {
		// Generalizes the original Python secondary's fixed default
		// ("secondary-1") to "secondary-<pid>" so unconfigured instances
		// started side by side in local testing don't collide.
		serverID = fmt.Sprintf("secondary-%d", os.Getpid())
	}

	return Secondary{
		Addr:             v.GetString("addr"),
		MasterURL:        v.GetString("master-url"),
		ServerID:         serverID,
		ReplicationDelay: v.GetDuration("replication-delay"),
		ErrorRate:        v.GetFloat64("error-rate"),
	}, nil
}

func bindSecondaryDefaults(v *viper.Viper) {
	v.SetDefault("addr", ":8081")
	v.SetDefault("master-url", "")
	v.SetDefault("server-id", "")
	v.SetDefault("replication-delay", 0)
	v.SetDefault("error-rate", 0.0)
}
