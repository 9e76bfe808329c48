package setup

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/mioxtw/sol-wallet-monitor/config"
	"github.com/mioxtw/sol-wallet-monitor/internal/domain"
	"gopkg.in/yaml.v3"
)

var (
	subtle    = lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#383838"}
	highlight = lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	special   = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Background(highlight).
			Padding(1, 2).
			Bold(true).
			MarginBottom(1)

	stepStyle = lipgloss.NewStyle().
			Foreground(special).
			Bold(true).
			MarginTop(1).
			MarginBottom(0)
)

// Answers values collected by the wizard.
type Answers struct {
	Source         string
	StreamEndpoint string
	RPCEndpoint    string
	Port           string
	AdminToken     string
	Backend        string
	BackendURL     string
	Wallets        []domain.Wallet
}

// RunTUI launches the terminal configuration wizard and writes the result to path.
func RunTUI(path string) error {
	a := Answers{
		Source:         config.SourceAccount,
		StreamEndpoint: "wss://api.mainnet-beta.solana.com",
		RPCEndpoint:    "https://api.mainnet-beta.solana.com",
		Port:           "3000",
		Backend:        config.BackendWAL,
	}
	var confirm bool

	// step 1: welcome
	step("")
	fmt.Println(lipgloss.NewStyle().Foreground(subtle).Render("Let's pick the wallets you want to watch.\n"))

	step("STEP 1: CHAIN ACCESS")
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("How should balance changes be received?").
				Options(
					huh.NewOption("Account subscription (websocket)", config.SourceAccount),
					huh.NewOption("Transaction polling (rpc)", config.SourceTransaction),
				).
				Value(&a.Source),
			huh.NewInput().
				Title("Stream endpoint").
				Description("websocket url for account subscriptions").
				Value(&a.StreamEndpoint),
			huh.NewInput().
				Title("RPC endpoint").
				Description("used for balance lookups").
				Value(&a.RPCEndpoint).
				Validate(notEmpty("rpc endpoint")),
		),
	).Run()
	if err != nil {
		return err
	}

	step("STEP 2: SERVER")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("HTTP port").
				Value(&a.Port).
				Validate(validatePort),
			huh.NewInput().
				Title("Admin token").
				Description("required for adding and removing wallets, leave empty to disable").
				Value(&a.AdminToken).
				EchoMode(huh.EchoModePassword),
		),
	).Run()
	if err != nil {
		return err
	}

	step("STEP 3: HISTORY")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Where should balance history be kept?").
				Options(
					huh.NewOption("Local write-ahead log", config.BackendWAL),
					huh.NewOption("PostgreSQL", config.BackendPostgres),
					huh.NewOption("Redis", config.BackendRedis),
				).
				Value(&a.Backend),
		),
	).Run()
	if err != nil {
		return err
	}
	if a.Backend != config.BackendWAL {
		err = huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title("Connection URL").
					Value(&a.BackendURL).
					Validate(notEmpty("connection url")),
			),
		).Run()
		if err != nil {
			return err
		}
	}

	// wallets
	for more := true; more; {
		step(fmt.Sprintf("STEP 4: WALLETS (%d added)", len(a.Wallets)))
		var name, address string
		err = huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title("Wallet name").
					Value(&name).
					Validate(func(s string) error { return a.validateName(s) }),
				huh.NewInput().
					Title("Wallet address").
					Value(&address).
					Validate(func(s string) error { return a.validateAddress(s) }),
				huh.NewConfirm().
					Title("Add another wallet?").
					Value(&more),
			),
		).Run()
		if err != nil {
			return err
		}
		w, err := domain.NewWallet(name, address)
		if err != nil {
			return err
		}
		a.Wallets = append(a.Wallets, w)
	}

	// confirmation
	step("FINAL CONFIRMATION")
	fmt.Println(lipgloss.NewStyle().Border(lipgloss.NormalBorder()).Padding(1).Render(a.summary()))

	err = huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Save Configuration?").
				Affirmative("Yes, save").
				Negative("No, exit").
				Value(&confirm),
		),
	).Run()
	if err != nil {
		return err
	}
	if !confirm {
		return fmt.Errorf("setup cancelled by user")
	}

	fc, err := a.FileConfig()
	if err != nil {
		return err
	}
	if err := WriteConfig(path, fc); err != nil {
		return err
	}

	fmt.Println(lipgloss.NewStyle().Foreground(special).Render(fmt.Sprintf("\n✓ Configuration saved to %s", path)))
	time.Sleep(1500 * time.Millisecond) // small pause to read success message
	return nil
}

func step(title string) {
	fmt.Print("\033[H\033[2J") // clear screen
	fmt.Println(headerStyle.Render("SOL WALLET MONITOR SETUP"))
	if title != "" {
		fmt.Println(stepStyle.Render(title))
	}
}

// FileConfig converts the answers into a config document that passes validation.
func (a Answers) FileConfig() (config.FileConfig, error) {
	port, err := strconv.Atoi(a.Port)
	if err != nil {
		return config.FileConfig{}, fmt.Errorf("invalid port %q: %w", a.Port, err)
	}

	fc := config.FileConfig{
		Stream: config.StreamFile{
			Source:   a.Source,
			Endpoint: strings.TrimSpace(a.StreamEndpoint),
		},
		RPC:     config.RPCFile{Endpoint: strings.TrimSpace(a.RPCEndpoint)},
		Server:  config.ServerFile{Port: port, AdminToken: a.AdminToken},
		History: config.HistoryFile{Backend: a.Backend},
		Wallets: a.Wallets,
	}
	switch a.Backend {
	case config.BackendPostgres:
		fc.History.PostgresURL = a.BackendURL
	case config.BackendRedis:
		fc.History.RedisURL = a.BackendURL
	}

	if _, err := fc.Build(); err != nil {
		return config.FileConfig{}, err
	}
	return fc, nil
}

// WriteConfig marshals fc to path.
func WriteConfig(path string, fc config.FileConfig) error {
	data, err := yaml.Marshal(fc)
	if err != nil {
		return fmt.Errorf("failed to generate yaml: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to save config file: %w", err)
	}
	return nil
}

func (a Answers) summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Source: %s\nStream: %s\nRPC: %s\nPort: %s\nHistory: %s\n", a.Source, a.StreamEndpoint, a.RPCEndpoint, a.Port, a.Backend)
	for _, w := range a.Wallets {
		fmt.Fprintf(&b, "  %s  %s\n", w.Name, w.Address)
	}
	return b.String()
}

func (a Answers) validateName(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return fmt.Errorf("name cannot be empty")
	}
	for _, w := range a.Wallets {
		if w.Name == s {
			return fmt.Errorf("name %s already used", s)
		}
	}
	return nil
}

func (a Answers) validateAddress(s string) error {
	w, err := domain.NewWallet("probe", s)
	if err != nil {
		return err
	}
	for _, existing := range a.Wallets {
		if existing.Address == w.Address {
			return fmt.Errorf("address already added as %s", existing.Name)
		}
	}
	return nil
}

func validatePort(s string) error {
	p, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("must be a number")
	}
	if p < 1 || p > 65535 {
		return fmt.Errorf("must be between 1 and 65535")
	}
	return nil
}

func notEmpty(field string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s cannot be empty", field)
		}
		return nil
	}
}
