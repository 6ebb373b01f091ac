package models

import (
	"log"

	"gorm.io/gorm"
)

var migrationModels = []interface{}{
	&User{},
	&QuickbooksConnection{},
	&SalesInvoice{},
	&SalesInvoiceDetail{},
	&CustomerPayment{},
	&QuickbooksSyncLog{},
}

func MigrateTable(db *gorm.DB) {
	if db == nil {
		log.Printf("migrate skipped: db is nil")
		return
	}
	if err := db.AutoMigrate(migrationModels...); err != nil {
		log.Printf("auto migrate failed: %v", err)
	}
}
