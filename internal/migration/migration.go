package migration

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	auditdomain "github.com/smallbiznis/railzway-benefits/internal/audit/domain"
	benefitdomain "github.com/smallbiznis/railzway-benefits/internal/benefit/domain"
	grantdomain "github.com/smallbiznis/railzway-benefits/internal/benefitgrant/domain"
	"github.com/smallbiznis/railzway-benefits/internal/benefitstrategy/downloadables"
	"github.com/smallbiznis/railzway-benefits/internal/benefitstrategy/licensekeys"
	"github.com/smallbiznis/railzway-benefits/internal/benefitstrategy/metercredit"
	customerdomain "github.com/smallbiznis/railzway-benefits/internal/customer/domain"
	"github.com/smallbiznis/railzway-benefits/internal/jobqueue"
	orderdomain "github.com/smallbiznis/railzway-benefits/internal/order/domain"
	productdomain "github.com/smallbiznis/railzway-benefits/internal/product/domain"
	subscriptiondomain "github.com/smallbiznis/railzway-benefits/internal/subscription/domain"
	webhookdomain "github.com/smallbiznis/railzway-benefits/internal/webhook/domain"
	"gorm.io/gorm"
)

// Models lists every table the engine owns, in dependency order.
func Models() []any {
	return []any{
		&customerdomain.Customer{},
		&customerdomain.Member{},
		&customerdomain.OAuthAccount{},
		&benefitdomain.Benefit{},
		&productdomain.Product{},
		&productdomain.ProductBenefit{},
		&subscriptiondomain.Subscription{},
		&orderdomain.Order{},
		&grantdomain.BenefitGrant{},
		&downloadables.Downloadable{},
		&licensekeys.LicenseKey{},
		&metercredit.Credit{},
		&jobqueue.Job{},
		&auditdomain.AuditLog{},
		&webhookdomain.WebhookEvent{},
	}
}

// Migrate applies the embedded SQL migrations on postgres and falls back to
// gorm AutoMigrate for sqlite and mysql.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return errors.New("migration database handle is required")
	}
	if conn.Dialector.Name() != "postgres" {
		if err := conn.AutoMigrate(Models()...); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	return RunMigrations(sqlDB)
}

func RunMigrations(db *sql.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// Do not call migrator.Close here because it would close the shared *sql.DB.

	return nil
}
