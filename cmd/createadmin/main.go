// Command createadmin adds an admin account for the lab console.
//
//	createadmin -username alice -password 'correct horse'
//
// The password may also come from ADMIN_PASSWORD so it stays out of shell
// history.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/lab-device-reservation/internal/config"
	"github.com/iliyamo/lab-device-reservation/internal/database"
	"github.com/iliyamo/lab-device-reservation/internal/logging"
	"github.com/iliyamo/lab-device-reservation/internal/repository"
)

func main() {
	username := flag.String("username", "", "admin username")
	password := flag.String("password", os.Getenv("ADMIN_PASSWORD"), "admin password (default $ADMIN_PASSWORD)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}
	log := logging.New(cfg.LogLevel, "text")

	if *username == "" || *password == "" {
		flag.Usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := database.Open(ctx, database.Options{
		Driver: cfg.DBDriver,
		User:   cfg.DBUser,
		Pass:   cfg.DBPass,
		Host:   cfg.DBHost,
		Port:   cfg.DBPort,
		Name:   cfg.DBName,
		Path:   cfg.DBPath,
	})
	if err != nil {
		log.WithError(err).Fatal("database unavailable")
	}
	defer db.Close()

	id, err := repository.NewAdminRepo(db).Create(ctx, *username, *password, cfg.BcryptCost)
	if errors.Is(err, repository.ErrUsernameExists) {
		log.WithField("username", *username).Error("admin already exists")
		db.Close()
		os.Exit(1)
	}
	if err != nil {
		log.WithError(err).Fatal("create admin")
	}
	log.WithFields(logrus.Fields{"id": id, "username": *username}).Info("admin created")
}
