// Package config loads node configuration from a TOML file and CLI flags,
// the same two-layer scheme as the teacher's cmd/berith/config.go: defaults,
// then an optional TOML file, then flags override both.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"reflect"
	"unicode"

	"github.com/naoina/toml"
	cli "gopkg.in/urfave/cli.v1"

	"driftchain/ratelimit"
)

// tomlSettings mirrors the teacher's field-name normalization: TOML keys
// match Go struct field names exactly, with a helpful error on typos.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string { return key },
	FieldToKey:    func(rt reflect.Type, field string) string { return field },
	MissingField: func(rt reflect.Type, field string) error {
		link := ""
		if unicode.IsUpper(rune(rt.Name()[0])) {
			link = fmt.Sprintf(" (see %s)", rt.String())
		}
		return fmt.Errorf("config: field %q is not defined in %s%s", field, rt.String(), link)
	},
}

// RateLimit is the TOML-friendly projection of ratelimit.Limits: explicit
// named fields rather than a map keyed by an unexported enum.
type RateLimit struct {
	RequestResponseCounter      int
	RequestResponseTimeoutSecs  uint32
	GossipBlockCounter          int
	GossipBlockTimeoutSecs      uint32
	GossipTransactionCounter    int
	GossipTransactionTimeoutSecs uint32
	GossipStakeCounter          int
	GossipStakeTimeoutSecs      uint32
	GossipPeersCounter          int
	GossipPeersTimeoutSecs      uint32
}

// ToLimits converts the TOML projection into ratelimit.Limits.
func (r RateLimit) ToLimits() ratelimit.Limits {
	return ratelimit.Limits{
		Counter: map[ratelimit.Endpoint]int{
			ratelimit.RequestResponse:      r.RequestResponseCounter,
			ratelimit.GossipsubBlock:       r.GossipBlockCounter,
			ratelimit.GossipsubTransaction: r.GossipTransactionCounter,
			ratelimit.GossipsubStake:       r.GossipStakeCounter,
			ratelimit.GossipsubPeers:       r.GossipPeersCounter,
		},
		Timeout: map[ratelimit.Endpoint]uint32{
			ratelimit.RequestResponse:      r.RequestResponseTimeoutSecs,
			ratelimit.GossipsubBlock:       r.GossipBlockTimeoutSecs,
			ratelimit.GossipsubTransaction: r.GossipTransactionTimeoutSecs,
			ratelimit.GossipsubStake:       r.GossipStakeTimeoutSecs,
			ratelimit.GossipsubPeers:       r.GossipPeersTimeoutSecs,
		},
	}
}

func defaultRateLimit() RateLimit {
	d := ratelimit.DefaultLimits()
	return RateLimit{
		RequestResponseCounter:       d.Counter[ratelimit.RequestResponse],
		RequestResponseTimeoutSecs:   d.Timeout[ratelimit.RequestResponse],
		GossipBlockCounter:           d.Counter[ratelimit.GossipsubBlock],
		GossipBlockTimeoutSecs:       d.Timeout[ratelimit.GossipsubBlock],
		GossipTransactionCounter:     d.Counter[ratelimit.GossipsubTransaction],
		GossipTransactionTimeoutSecs: d.Timeout[ratelimit.GossipsubTransaction],
		GossipStakeCounter:           d.Counter[ratelimit.GossipsubStake],
		GossipStakeTimeoutSecs:       d.Timeout[ratelimit.GossipsubStake],
		GossipPeersCounter:           d.Counter[ratelimit.GossipsubPeers],
		GossipPeersTimeoutSecs:       d.Timeout[ratelimit.GossipsubPeers],
	}
}

// Config is the full node configuration.
type Config struct {
	StorePath            string
	ListenAddr           string
	ValidatorKeyPath     string
	BlockTime            uint32
	Elapsed              uint32
	TrustForkAfterBlocks uint64
	RateLimit            RateLimit
}

// Default returns the out-of-the-box configuration: the network's
// protocol-fixed BlockTime/Elapsed (spec.md §6) and a conservative local
// rate-limit/store layout.
func Default() Config {
	return Config{
		StorePath:            "driftchain-data",
		ListenAddr:           "127.0.0.1:8645",
		ValidatorKeyPath:     "validator.key",
		BlockTime:            60,
		Elapsed:              90,
		TrustForkAfterBlocks: 8,
		RateLimit:            defaultRateLimit(),
	}
}

// LoadFile reads and decodes a TOML configuration file, starting from cfg's
// existing values (so the caller seeds Default() first).
func LoadFile(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	err = tomlSettings.NewDecoder(bufio.NewReader(f)).Decode(cfg)
	if _, ok := err.(*toml.LineError); ok {
		err = errors.New(path + ", " + err.Error())
	}
	return err
}

var (
	ConfigFileFlag = cli.StringFlag{
		Name:  "config",
		Usage: "TOML configuration file",
	}
	StorePathFlag = cli.StringFlag{
		Name:  "store",
		Usage: "Path to the column-family key-value store",
	}
	ListenAddrFlag = cli.StringFlag{
		Name:  "listen",
		Usage: "HTTP submit-surface listen address",
	}
	ValidatorKeyFlag = cli.StringFlag{
		Name:  "validator-key",
		Usage: "Path to the validator's private key file",
	}
	TrustForkAfterBlocksFlag = cli.Uint64Flag{
		Name:  "trust-fork-after-blocks",
		Usage: "Depth at which a fork is promoted from unstable to stable",
	}
)

// Flags is the set of CLI flags that can override the loaded configuration.
func Flags() []cli.Flag {
	return []cli.Flag{
		ConfigFileFlag,
		StorePathFlag,
		ListenAddrFlag,
		ValidatorKeyFlag,
		TrustForkAfterBlocksFlag,
	}
}

// Load builds the final configuration: defaults, then an optional TOML
// file named by ConfigFileFlag, then any flags set on ctx.
func Load(ctx *cli.Context) (Config, error) {
	cfg := Default()
	if file := ctx.GlobalString(ConfigFileFlag.Name); file != "" {
		if err := LoadFile(file, &cfg); err != nil {
			return Config{}, err
		}
	}
	if ctx.GlobalIsSet(StorePathFlag.Name) {
		cfg.StorePath = ctx.GlobalString(StorePathFlag.Name)
	}
	if ctx.GlobalIsSet(ListenAddrFlag.Name) {
		cfg.ListenAddr = ctx.GlobalString(ListenAddrFlag.Name)
	}
	if ctx.GlobalIsSet(ValidatorKeyFlag.Name) {
		cfg.ValidatorKeyPath = ctx.GlobalString(ValidatorKeyFlag.Name)
	}
	if ctx.GlobalIsSet(TrustForkAfterBlocksFlag.Name) {
		cfg.TrustForkAfterBlocks = ctx.GlobalUint64(TrustForkAfterBlocksFlag.Name)
	}
	return cfg, nil
}
