package cmd

import (
	"fmt"
	"log"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/frahmantamala/land-payment/internal/auth"
	"github.com/frahmantamala/land-payment/internal/core/datamodel/land"
	"github.com/frahmantamala/land-payment/internal/core/datamodel/user"
	"github.com/frahmantamala/land-payment/internal/transport/rest"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with sample data",
	Long:  `Seed users, the operator permission, parcels and installment plans for development and testing.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig(configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}

		sqlDB, db, err := initDB(cfg.Database)
		if err != nil {
			log.Fatalf("failed to init db: %v", err)
		}
		defer sqlDB.Close()

		hash, err := auth.HashPassword("password", cfg.Security.BCryptCost)
		if err != nil {
			log.Fatalf("failed to hash password: %v", err)
		}

		buyer := seedUser(db, user.User{Email: "buyer@mail.com", Name: "Ada Buyer", Phone: "+2348000000001", PasswordHash: hash, Role: "buyer", IsActive: true})
		operator := seedUser(db, user.User{Email: "ops@mail.com", Name: "Tunde Ops", Phone: "+2348000000002", PasswordHash: hash, Role: "admin", IsActive: true})

		perm := user.Permission{Name: rest.PermissionManagePayments, Description: "Can reconcile any payment"}
		if err := db.Where(user.Permission{Name: perm.Name}).FirstOrCreate(&perm).Error; err != nil {
			log.Fatalf("failed to insert permission %s: %v", perm.Name, err)
		}
		grant := user.UserPermission{UserID: operator.ID, PermissionID: perm.ID}
		if err := db.Where(user.UserPermission{UserID: operator.ID, PermissionID: perm.ID}).FirstOrCreate(&grant).Error; err != nil {
			log.Fatalf("failed to grant %s: %v", perm.Name, err)
		}
		fmt.Println("Granted", perm.Name, "to", operator.Email)

		parcels := []struct {
			land  land.Land
			plans []land.InstallmentPlan
		}{
			{
				land: land.Land{Title: "Lekki Phase 2, Plot 14", City: "Lagos", State: "Lagos", TotalPrice: decimal.NewFromInt(12_000_000), Currency: "NGN", Status: land.StatusAvailable},
				plans: []land.InstallmentPlan{
					{Name: "6 months", TotalMonths: 6, DownPaymentPercentage: decimal.NewFromInt(30), MonthlyInterestRate: decimal.Zero, IsActive: true},
					{Name: "12 months", TotalMonths: 12, DownPaymentPercentage: decimal.NewFromInt(20), MonthlyInterestRate: decimal.RequireFromString("1.5"), IsActive: true},
				},
			},
			{
				land: land.Land{Title: "Ibeju-Lekki Estate, Block C", City: "Lagos", State: "Lagos", TotalPrice: decimal.NewFromInt(4_500_000), Currency: "NGN", Status: land.StatusAvailable},
				plans: []land.InstallmentPlan{
					{Name: "3 months", TotalMonths: 3, DownPaymentPercentage: decimal.NewFromInt(40), MonthlyInterestRate: decimal.Zero, IsActive: true},
				},
			},
			{
				land: land.Land{Title: "Gwarinpa Extension, Plot 3", City: "Abuja", State: "FCT", TotalPrice: decimal.NewFromInt(8_750_000), Currency: "NGN", Status: land.StatusAvailable},
			},
		}

		for _, p := range parcels {
			l := p.land
			if err := db.Where(land.Land{Title: l.Title}).FirstOrCreate(&l).Error; err != nil {
				log.Fatalf("failed to insert land %s: %v", l.Title, err)
			}
			for _, plan := range p.plans {
				plan.LandID = l.ID
				if err := db.Where(land.InstallmentPlan{LandID: l.ID, Name: plan.Name}).FirstOrCreate(&plan).Error; err != nil {
					log.Fatalf("failed to insert plan %s for land %d: %v", plan.Name, l.ID, err)
				}
			}
			fmt.Printf("Seeded land %d: %s (%d plans)\n", l.ID, l.Title, len(p.plans))
		}

		fmt.Println("Seed complete. Buyer login:", buyer.Email, "/ password")
	},
}

func seedUser(db *gorm.DB, u user.User) user.User {
	var out user.User
	if err := db.Where(user.User{Email: u.Email}).Attrs(u).FirstOrCreate(&out).Error; err != nil {
		log.Fatalf("failed to insert user %s: %v", u.Email, err)
	}
	fmt.Println("Seeded user:", out.Email)
	return out
}
