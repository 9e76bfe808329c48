package config

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"

	"github.com/mioxtw/sol-wallet-monitor/internal/domain"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const walletsKey = "wallets"

// WalletStore persists the tracked wallet list across restarts.
type WalletStore interface {
	Save(wallets []domain.Wallet) error
	Remove(address string) error
}

// YAMLWalletStore rewrites the wallets section of the config file and leaves
// every other key and comment in place.
type YAMLWalletStore struct {
	mu   sync.Mutex
	path string
}

// NewYAMLWalletStore creates a store over the config file at path.
func NewYAMLWalletStore(path string) *YAMLWalletStore {
	return &YAMLWalletStore{path: path}
}

// Save replaces the stored list.
func (s *YAMLWalletStore) Save(wallets []domain.Wallet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return err
	}
	if err := setWallets(doc, wallets); err != nil {
		return err
	}
	return s.write(doc)
}

// Remove drops one wallet from the stored list. Unknown addresses are a no-op.
func (s *YAMLWalletStore) Remove(address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return err
	}
	current, err := getWallets(doc)
	if err != nil {
		return err
	}

	kept := make([]domain.Wallet, 0, len(current))
	for _, w := range current {
		if w.Address != address {
			kept = append(kept, w)
		}
	}
	if len(kept) == len(current) {
		return nil
	}
	if err := setWallets(doc, kept); err != nil {
		return err
	}
	return s.write(doc)
}

// Wallets returns the stored list.
func (s *YAMLWalletStore) Wallets() ([]domain.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return nil, err
	}
	return getWallets(doc)
}

func (s *YAMLWalletStore) read() (*yaml.Node, error) {
	data, err := os.ReadFile(s.path)
	if err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "read config")
	}

	doc := &yaml.Node{}
	if len(bytes.TrimSpace(data)) > 0 {
		if err := yaml.Unmarshal(data, doc); err != nil {
			return nil, errors.Wrap(err, "parse config")
		}
	}
	if doc.Kind == 0 {
		doc.Kind = yaml.DocumentNode
		doc.Content = []*yaml.Node{{Kind: yaml.MappingNode, Tag: "!!map"}}
	}
	if len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return nil, errors.New("config root is not a mapping")
	}
	return doc, nil
}

func (s *YAMLWalletStore) write(doc *yaml.Node) error {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return errors.Wrap(err, "encode config")
	}
	if err := enc.Close(); err != nil {
		return errors.Wrap(err, "encode config")
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return errors.Wrap(err, "create temp config")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return errors.Wrap(err, "write temp config")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.Wrap(err, "sync temp config")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "close temp config")
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return errors.Wrap(err, "chmod temp config")
	}
	return errors.Wrap(os.Rename(tmp.Name(), s.path), "replace config")
}

func walletsNode(doc *yaml.Node) (*yaml.Node, int) {
	root := doc.Content[0]
	for i := 0; i+1 < len(root.Content); i += 2 {
		if root.Content[i].Value == walletsKey {
			return root.Content[i+1], i + 1
		}
	}
	return nil, -1
}

func getWallets(doc *yaml.Node) ([]domain.Wallet, error) {
	node, _ := walletsNode(doc)
	if node == nil {
		return nil, nil
	}
	var wallets []domain.Wallet
	if err := node.Decode(&wallets); err != nil {
		return nil, errors.Wrap(err, "decode wallets")
	}
	return wallets, nil
}

func setWallets(doc *yaml.Node, wallets []domain.Wallet) error {
	if wallets == nil {
		wallets = []domain.Wallet{}
	}
	list := &yaml.Node{}
	if err := list.Encode(wallets); err != nil {
		return errors.Wrap(err, "encode wallets")
	}

	root := doc.Content[0]
	if old, idx := walletsNode(doc); old != nil {
		list.HeadComment = old.HeadComment
		root.Content[idx] = list
		return nil
	}
	root.Content = append(root.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: walletsKey},
		list,
	)
	return nil
}
