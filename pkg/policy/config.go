package policy

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aretw0/concierge/pkg/domain"
	"github.com/aretw0/concierge/pkg/schema"
	"gopkg.in/yaml.v3"
)

// ToolClass groups tools for quota accounting.
type ToolClass string

const (
	ClassSearch  ToolClass = "search"
	ClassBooking ToolClass = "booking"
)

// ToolSpec is the catalog entry of a tool.
type ToolSpec struct {
	Name        string        `yaml:"name" json:"name"`
	Class       ToolClass     `yaml:"class" json:"class"`
	Description string        `yaml:"description" json:"description"`
	Args        schema.Schema `yaml:"args" json:"args"`
}

// Vertical is the per-business-vertical allow-list.
type Vertical struct {
	Tools []string `yaml:"tools" json:"tools"`

	// Required lists the slots to collect before booking, in asking order.
	Required []domain.SlotName `yaml:"required" json:"required"`
}

// Config is the full policy configuration.
type Config struct {
	Verticals map[string]Vertical          `yaml:"verticals" json:"verticals"`
	Tiers     map[string]map[ToolClass]int `yaml:"tiers" json:"tiers"`
	Tools     []ToolSpec                   `yaml:"tools" json:"tools"`
}

// Validate checks that every allow-listed tool has a catalog entry.
func (c Config) Validate() error {
	known := make(map[string]bool, len(c.Tools))
	for _, t := range c.Tools {
		if t.Name == "" {
			return fmt.Errorf("tool without name")
		}
		if known[t.Name] {
			return fmt.Errorf("duplicate tool %s", t.Name)
		}
		known[t.Name] = true
	}
	for name, v := range c.Verticals {
		for _, tool := range v.Tools {
			if !known[tool] {
				return fmt.Errorf("vertical %s: %w: %s", name, domain.ErrUnknownTool, tool)
			}
		}
		for _, slot := range v.Required {
			if _, ok := domain.ParseSlotName(string(slot)); !ok {
				return fmt.Errorf("vertical %s: %w: %s", name, domain.ErrUnknownSlot, slot)
			}
		}
	}
	return nil
}

// Load reads a policy file (YAML or JSON).
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read policy config: %w", err)
	}

	var cfg Config
	if strings.ToLower(filepath.Ext(path)) == ".json" {
		err = json.Unmarshal(data, &cfg)
	} else {
		err = yaml.Unmarshal(data, &cfg)
	}
	if err != nil {
		return Config{}, fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Tool names of the built-in catalog.
const (
	ToolCheckAvailability = "check_availability"
	ToolCreateBooking     = "create_booking"
	ToolCancelBooking     = "cancel_booking"
)

// DefaultConfig returns the built-in catalog for the salon and restaurant verticals.
func DefaultConfig() Config {
	str := schema.String()
	return Config{
		Verticals: map[string]Vertical{
			"salon": {
				Tools:    []string{ToolCheckAvailability, ToolCreateBooking, ToolCancelBooking},
				Required: []domain.SlotName{domain.SlotService, domain.SlotDate, domain.SlotTime, domain.SlotCustomerName},
			},
			"restaurant": {
				Tools:    []string{ToolCheckAvailability, ToolCreateBooking, ToolCancelBooking},
				Required: []domain.SlotName{domain.SlotDate, domain.SlotTime, domain.SlotPartySize, domain.SlotCustomerName},
			},
		},
		Tiers: map[string]map[ToolClass]int{
			"free": {ClassSearch: 50, ClassBooking: 5},
			"pro":  {ClassSearch: 1000, ClassBooking: 200},
		},
		Tools: []ToolSpec{
			{
				Name:        ToolCheckAvailability,
				Class:       ClassSearch,
				Description: "Check whether a slot is free.",
				Args: schema.Schema{
					{Name: "date", Type: str, Required: true},
					{Name: "time", Type: str, Required: true},
					{Name: "service", Type: str},
					{Name: "party_size", Type: str},
				},
			},
			{
				Name:        ToolCreateBooking,
				Class:       ClassBooking,
				Description: "Create the booking.",
				Args: schema.Schema{
					{Name: "date", Type: str, Required: true},
					{Name: "time", Type: str, Required: true},
					{Name: "customer_name", Type: str, Required: true},
					{Name: "service", Type: str},
					{Name: "party_size", Type: str},
					{Name: "email", Type: str},
					{Name: "phone", Type: str},
				},
			},
			{
				Name:        ToolCancelBooking,
				Class:       ClassBooking,
				Description: "Cancel an existing booking.",
				Args: schema.Schema{
					{Name: "booking_id", Type: str, Required: true},
				},
			},
		},
	}
}
