// Package config defines the startup configuration schema of a node.
package config

import (
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"os"

	"go.uber.org/multierr"

	"github.com/relab/hetpaxos/crypto"
	"github.com/relab/hetpaxos/netconfig"
	"github.com/relab/hetpaxos/quorums"
)

// Address identifies one acceptor: its public key (PEM), where to reach it,
// and the short name used inside quorum definitions.
type Address struct {
	PublicKey string `json:"public_key"`
	Hostname  string `json:"hostname"`
	Port      uint16 `json:"port"`
	Name      string `json:"name"`
}

// Quorum is a set of acceptor short names.
type Quorum struct {
	Names []string `json:"names"`
}

// MinimalQuorums is one learner's quorum system.
type MinimalQuorums struct {
	Quorums []Quorum `json:"quorums"`
}

// SafetyEdges maps a second learner name to the minimal acceptor sets that
// every intersection of the two learners' quorums must contain.
type SafetyEdges struct {
	SafetySets map[string]MinimalQuorums `json:"safety_sets"`
}

// Config is the full startup configuration of a node.
type Config struct {
	PrivateKey string                    `json:"private_key"`
	Proposal   string                    `json:"proposal"`
	Learners   map[string]MinimalQuorums `json:"learners"`
	SafetySets map[string]SafetyEdges    `json:"safety_sets"`
	Addresses  []Address                 `json:"addresses"`
}

// FromFile loads and validates a JSON config file.
//
// Learner and acceptor names are case sensitive, so the file is decoded with
// encoding/json directly rather than through a case-folding layer.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the structural integrity of the configuration: parseable
// keys, complete addresses, and quorum references that resolve. Pairwise
// safety of the quorum systems is certified separately by quorums.Certify.
func (cfg *Config) Validate() (err error) {
	if len(cfg.Addresses) == 0 {
		err = multierr.Append(err, fmt.Errorf("no addresses configured"))
	}
	if cfg.PrivateKey != "" {
		if _, keyErr := crypto.ParsePrivateKey(cfg.PrivateKey); keyErr != nil {
			err = multierr.Append(err, fmt.Errorf("private_key: %w", keyErr))
		}
	}
	names := make(map[string]bool, len(cfg.Addresses))
	for i, addr := range cfg.Addresses {
		if addr.Name == "" {
			err = multierr.Append(err, fmt.Errorf("addresses[%d]: empty name", i))
			continue
		}
		if names[addr.Name] {
			err = multierr.Append(err, fmt.Errorf("addresses[%d]: duplicate name %q", i, addr.Name))
		}
		names[addr.Name] = true
		if addr.Hostname == "" || addr.Port == 0 {
			err = multierr.Append(err, fmt.Errorf("address %q: incomplete endpoint", addr.Name))
		}
		if _, keyErr := crypto.ParsePublicKey(addr.PublicKey); keyErr != nil {
			err = multierr.Append(err, fmt.Errorf("address %q: public_key: %w", addr.Name, keyErr))
		}
	}
	for learner, mq := range cfg.Learners {
		for _, q := range mq.Quorums {
			for _, name := range q.Names {
				if !names[name] {
					err = multierr.Append(err, fmt.Errorf("learner %q: %w: %q", learner, quorums.ErrUnknownAcceptor, name))
				}
			}
		}
	}
	for l1, edges := range cfg.SafetySets {
		for l2, mq := range edges.SafetySets {
			for _, q := range mq.Quorums {
				for _, name := range q.Names {
					if !names[name] {
						err = multierr.Append(err, fmt.Errorf("safety edge (%q, %q): %w: %q", l1, l2, quorums.ErrUnknownAcceptor, name))
					}
				}
			}
		}
	}
	return err
}

// Directory builds the peer directory from the configured addresses.
func (cfg *Config) Directory() (*netconfig.Directory, error) {
	peers := make([]netconfig.PeerInfo, len(cfg.Addresses))
	for i, addr := range cfg.Addresses {
		pub, err := crypto.ParsePublicKey(addr.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("address %q: %w", addr.Name, err)
		}
		peers[i] = netconfig.PeerInfo{
			Name:     addr.Name,
			Hostname: addr.Hostname,
			Port:     addr.Port,
			PubKey:   pub,
		}
	}
	return netconfig.NewDirectory(peers)
}

// LearnerQuorums converts the learner map to the evaluator's representation.
func (cfg *Config) LearnerQuorums() quorums.LearnerQuorums {
	out := make(quorums.LearnerQuorums, len(cfg.Learners))
	for learner, mq := range cfg.Learners {
		out[learner] = quorumNames(mq)
	}
	return out
}

// SafetyEdgeSets converts the safety edge map to the evaluator's
// representation.
func (cfg *Config) SafetyEdgeSets() quorums.SafetySets {
	out := make(quorums.SafetySets, len(cfg.SafetySets))
	for l1, edges := range cfg.SafetySets {
		inner := make(map[string][][]string, len(edges.SafetySets))
		for l2, mq := range edges.SafetySets {
			inner[l2] = quorumNames(mq)
		}
		out[l1] = inner
	}
	return out
}

// SelfName returns the configured name whose public key matches the node's
// private key.
func (cfg *Config) SelfName(key *ecdsa.PrivateKey) (string, error) {
	for _, addr := range cfg.Addresses {
		pub, err := crypto.ParsePublicKey(addr.PublicKey)
		if err != nil {
			return "", fmt.Errorf("address %q: %w", addr.Name, err)
		}
		if pub.Equal(&key.PublicKey) {
			return addr.Name, nil
		}
	}
	return "", fmt.Errorf("private key matches no configured address")
}

func quorumNames(mq MinimalQuorums) [][]string {
	out := make([][]string, len(mq.Quorums))
	for i, q := range mq.Quorums {
		out[i] = q.Names
	}
	return out
}
