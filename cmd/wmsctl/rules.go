package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mmdatafocus/wms_backend/models"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
)

type ruleFile struct {
	Rules []ruleEntry `yaml:"rules"`
}

type ruleEntry struct {
	Name         string              `yaml:"name"`
	Priority     int                 `yaml:"priority"`
	Zone         string              `yaml:"zone"`
	Sku          string              `yaml:"sku"`
	LocationType models.LocationType `yaml:"location_type"`
}

func NewRulesCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage putaway rules",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "import <rules.yaml>",
		Short: "Replace the active putaway rules with the rules in the file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			entries, err := decodeRules(f)
			if err != nil {
				return err
			}
			db, err := opts.openDB()
			if err != nil {
				return err
			}
			rules, err := importRules(db.WithContext(cmd.Context()), entries)
			if err != nil {
				return err
			}
			return opts.emit(cmd.OutOrStdout(), rules, func(w io.Writer) {
				for _, r := range rules {
					fmt.Fprintf(w, "%4d  %-30s %s\n", r.Priority, r.Name, r.LocationType)
				}
				fmt.Fprintf(w, "%d active rules\n", len(rules))
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List active putaway rules in evaluation order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := opts.openDB()
			if err != nil {
				return err
			}
			rules, err := models.NewLocationStore(db.WithContext(cmd.Context())).ActivePutawayRules()
			if err != nil {
				return err
			}
			return opts.emit(cmd.OutOrStdout(), rules, func(w io.Writer) {
				for _, r := range rules {
					fmt.Fprintf(w, "%4d  %-30s %s\n", r.Priority, r.Name, r.LocationType)
				}
			})
		},
	})
	return cmd
}

func decodeRules(r io.Reader) ([]ruleEntry, error) {
	var file ruleFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode rules: %w", err)
	}
	for i, e := range file.Rules {
		if strings.TrimSpace(e.Name) == "" {
			return nil, fmt.Errorf("rule %d: name is required", i+1)
		}
	}
	return file.Rules, nil
}

// importRules deactivates every active rule and inserts the new set in one transaction.
func importRules(db *gorm.DB, entries []ruleEntry) ([]models.PutawayRule, error) {
	var rules []models.PutawayRule
	err := db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.PutawayRule{}).Where("is_active = ?", true).Update("is_active", false).Error; err != nil {
			return err
		}
		for _, e := range entries {
			rule := models.PutawayRule{Name: strings.TrimSpace(e.Name), Priority: e.Priority, LocationType: e.LocationType, IsActive: true}
			if rule.LocationType == "" {
				rule.LocationType = models.LocationTypeStorage
			}
			if e.Zone != "" {
				var zone models.Zone
				if err := tx.Where("code = ?", e.Zone).Take(&zone).Error; err != nil {
					return fmt.Errorf("rule %s: zone %s: %w", e.Name, e.Zone, err)
				}
				rule.ZoneId = &zone.ID
			}
			if e.Sku != "" {
				var sku models.Sku
				if err := tx.Where("code = ?", e.Sku).Take(&sku).Error; err != nil {
					return fmt.Errorf("rule %s: sku %s: %w", e.Name, e.Sku, err)
				}
				rule.SkuId = &sku.ID
			}
			if err := tx.Create(&rule).Error; err != nil {
				return err
			}
		}
		var err error
		rules, err = models.NewLocationStore(tx).ActivePutawayRules()
		return err
	})
	if err != nil {
		return nil, err
	}
	return rules, nil
}
