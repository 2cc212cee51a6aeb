package main

import (
	"log"

	"github.com/nestgold/nestgold/app/repository"
	"github.com/nestgold/nestgold/internal/pkg/database"
	"github.com/nestgold/nestgold/internal/pkg/env"
)

// seedadmin creates or updates the admin account from ADMIN_USERNAME and
// ADMIN_PASSWORD.
func main() {
	env.SetupEnvFile()

	username := env.GetEnv("ADMIN_USERNAME", "")
	password := env.GetEnv("ADMIN_PASSWORD", "")
	if username == "" || password == "" {
		log.Fatal("ADMIN_USERNAME and ADMIN_PASSWORD must be set")
	}

	if database.Driver() == database.DriverMemory {
		log.Fatal("DB_DRIVER=memory keeps no accounts between runs; the server seeds the admin at boot instead")
	}
	database.SetupDatabase()
	if database.GetDB() == nil {
		log.Fatal("Database connection failed")
	}

	repository.InitializeFactory(database.GetDB())
	created, err := repository.EnsureAdmin(repository.GetGlobalFactory().GetUserRepository(), username, password)
	if err != nil {
		log.Fatalf("Failed to seed admin: %v", err)
	}
	if created {
		log.Printf("Admin %q created", username)
	} else {
		log.Printf("Admin %q updated", username)
	}
}
