package main

import (
	"github.com/MarcoPoloResearchLab/markme/internal/bookmarks"
	"github.com/MarcoPoloResearchLab/markme/internal/config"
	"github.com/MarcoPoloResearchLab/markme/internal/database"
	"github.com/MarcoPoloResearchLab/markme/internal/imports"
	"github.com/MarcoPoloResearchLab/markme/internal/locking"
	"github.com/MarcoPoloResearchLab/markme/internal/logging"
	"github.com/MarcoPoloResearchLab/markme/internal/search"
	"github.com/MarcoPoloResearchLab/markme/internal/tags"
	"github.com/MarcoPoloResearchLab/markme/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// application holds the services shared by the server and the import command.
type application struct {
	logger    *zap.Logger
	db        *gorm.DB
	tags      *tags.Index
	bookmarks *bookmarks.Service
	search    *search.Engine
	importer  *imports.Importer
	users     *users.Service
}

func openApplication(appConfig config.AppConfig) (*application, error) {
	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogFormat)
	if err != nil {
		return nil, err
	}

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	app := &application{logger: logger, db: db}

	if err := app.wire(appConfig); err != nil {
		app.Close()
		return nil, err
	}
	return app, nil
}

func (app *application) wire(appConfig config.AppConfig) error {
	var err error
	locks := locking.NewKeyedMutex()

	app.tags, err = tags.NewIndex(tags.IndexConfig{
		Database:     app.db,
		DefaultLimit: appConfig.AutocompleteLimit,
		Logger:       app.logger,
	})
	if err != nil {
		return err
	}

	app.bookmarks, err = bookmarks.NewService(bookmarks.ServiceConfig{
		Database:   app.db,
		Tags:       app.tags,
		IDProvider: bookmarks.NewUUIDProvider(),
		Logger:     app.logger,
		Locks:      locks,
	})
	if err != nil {
		return err
	}

	app.search, err = search.NewEngine(search.EngineConfig{Database: app.db, Logger: app.logger})
	if err != nil {
		return err
	}

	app.importer, err = imports.NewImporter(imports.ImporterConfig{
		Bookmarks: app.bookmarks,
		BatchSize: appConfig.ImportBatchSize,
		Logger:    app.logger,
		Locks:     locks,
	})
	if err != nil {
		return err
	}

	app.users, err = users.NewService(users.ServiceConfig{Database: app.db})
	return err
}

func (app *application) Close() {
	if sqlDB, err := app.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	_ = app.logger.Sync()
}
