package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mmdatafocus/wms_backend/models"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// seedFile is the master-data document loaded by `wmsctl seed`.
type seedFile struct {
	Zones     []seedZone     `yaml:"zones"`
	Locations []seedLocation `yaml:"locations"`
	Skus      []seedSku      `yaml:"skus"`
	Users     []seedUser     `yaml:"users"`
}

type seedZone struct {
	Code string `yaml:"code"`
	Name string `yaml:"name"`
}

type seedLocation struct {
	Code        string              `yaml:"code"`
	Zone        string              `yaml:"zone"`
	Type        models.LocationType `yaml:"type"`
	MaxPallets  int                 `yaml:"max_pallets"`
	MaxWeightKg string              `yaml:"max_weight_kg"`
	Active      *bool               `yaml:"active"`
}

type seedSku struct {
	Code         string           `yaml:"code"`
	Barcode      string           `yaml:"barcode"`
	Name         string           `yaml:"name"`
	Status       models.SkuStatus `yaml:"status"`
	UnitWeightKg string           `yaml:"unit_weight_kg"`
}

type seedUser struct {
	Username string          `yaml:"username"`
	Name     string          `yaml:"name"`
	Role     models.UserRole `yaml:"role"`
	Active   *bool           `yaml:"active"`
}

type seedSummary struct {
	Zones     int `json:"zones"`
	Locations int `json:"locations"`
	Skus      int `json:"skus"`
	Users     int `json:"users"`
}

func NewSeedCommand(opts *RootOptions) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Upsert zones, locations, SKUs and users from a YAML file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(file)
			if err != nil {
				return err
			}
			defer f.Close()
			seed, err := decodeSeed(f)
			if err != nil {
				return err
			}
			db, err := opts.openDB()
			if err != nil {
				return err
			}
			summary, err := applySeed(db.WithContext(cmd.Context()), seed)
			if err != nil {
				return err
			}
			return opts.emit(cmd.OutOrStdout(), summary, func(w io.Writer) {
				fmt.Fprintf(w, "seeded %d zones, %d locations, %d skus, %d users\n",
					summary.Zones, summary.Locations, summary.Skus, summary.Users)
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "seed.yaml", "seed file")
	return cmd
}

func decodeSeed(r io.Reader) (*seedFile, error) {
	var seed seedFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&seed); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode seed: %w", err)
	}
	return &seed, nil
}

func parseDecimal(field, value string) (decimal.Decimal, error) {
	if strings.TrimSpace(value) == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: %w", field, err)
	}
	return d, nil
}

func upsertOnCode(columns ...string) clause.OnConflict {
	return clause.OnConflict{
		Columns:   []clause.Column{{Name: "code"}},
		DoUpdates: clause.AssignmentColumns(columns),
	}
}

func applySeed(db *gorm.DB, seed *seedFile) (*seedSummary, error) {
	summary := &seedSummary{}
	err := db.Transaction(func(tx *gorm.DB) error {
		zoneIds := map[string]int{}
		for _, z := range seed.Zones {
			zone := models.Zone{Code: strings.TrimSpace(z.Code), Name: z.Name}
			if zone.Name == "" {
				zone.Name = zone.Code
			}
			if err := tx.Clauses(upsertOnCode("name")).Create(&zone).Error; err != nil {
				return fmt.Errorf("zone %s: %w", z.Code, err)
			}
			summary.Zones++
		}
		var zones []models.Zone
		if err := tx.Find(&zones).Error; err != nil {
			return err
		}
		for _, z := range zones {
			zoneIds[z.Code] = z.ID
		}

		for _, l := range seed.Locations {
			weight, err := parseDecimal("location "+l.Code+" max_weight_kg", l.MaxWeightKg)
			if err != nil {
				return err
			}
			location := models.Location{Code: strings.TrimSpace(l.Code), Type: l.Type, MaxPallets: l.MaxPallets, MaxWeightKg: weight}
			if location.Type == "" {
				location.Type = models.LocationTypeStorage
			}
			if l.Zone != "" {
				id, ok := zoneIds[l.Zone]
				if !ok {
					return fmt.Errorf("location %s: unknown zone %s", l.Code, l.Zone)
				}
				location.ZoneId = &id
			}
			if err := tx.Clauses(upsertOnCode("zone_id", "type", "max_pallets", "max_weight_kg")).Create(&location).Error; err != nil {
				return fmt.Errorf("location %s: %w", l.Code, err)
			}
			active := l.Active == nil || *l.Active
			if err := tx.Model(&models.Location{}).Where("code = ?", location.Code).Update("is_active", active).Error; err != nil {
				return err
			}
			summary.Locations++
		}

		for _, s := range seed.Skus {
			weight, err := parseDecimal("sku "+s.Code+" unit_weight_kg", s.UnitWeightKg)
			if err != nil {
				return err
			}
			sku := models.Sku{Code: strings.TrimSpace(s.Code), Barcode: strings.TrimSpace(s.Barcode), Name: s.Name, Status: s.Status, UnitWeightKg: weight}
			if sku.Status == "" {
				sku.Status = models.SkuStatusActive
			}
			if sku.Name == "" {
				sku.Name = sku.Code
			}
			if err := tx.Clauses(upsertOnCode("barcode", "name", "status", "unit_weight_kg")).Create(&sku).Error; err != nil {
				return fmt.Errorf("sku %s: %w", s.Code, err)
			}
			summary.Skus++
		}

		for _, u := range seed.Users {
			user := models.User{Username: strings.TrimSpace(u.Username), Name: u.Name, Role: u.Role}
			if user.Role == "" {
				user.Role = models.UserRoleOperator
			}
			if user.Name == "" {
				user.Name = user.Username
			}
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "username"}},
				DoUpdates: clause.AssignmentColumns([]string{"name", "role"}),
			}).Create(&user).Error; err != nil {
				return fmt.Errorf("user %s: %w", u.Username, err)
			}
			active := u.Active == nil || *u.Active
			if err := tx.Model(&models.User{}).Where("username = ?", user.Username).Update("is_active", active).Error; err != nil {
				return err
			}
			summary.Users++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return summary, nil
}
