package main

import (
	"fmt"

	"github.com/kjk/invoicing/config"
	"github.com/kjk/invoicing/invoice"
	"github.com/kjk/invoicing/journal"
	"github.com/kjk/invoicing/log"
	"github.com/kjk/invoicing/store"
)

// app is what every command needs: config, logging and the store
type app struct {
	cfg     *config.Config
	store   *store.Store[*invoice.Invoice]
	journal *journal.Journal
}

type appOptions struct {
	configPath string
	verbose    bool
	// record changes in the journal
	withJournal bool
}

func openApp(opts *appOptions) (*app, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if err = cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	log.Init(&log.Config{
		Dir:     cfg.Log.Dir,
		Verbose: cfg.Log.Verbose || opts.verbose,
	})

	a := &app{cfg: cfg}
	storeOpts := &store.Options{
		RecordsFileName: cfg.Store.RecordsFile,
		IDsFileName:     cfg.Store.IDsFile,
	}
	if opts.withJournal && cfg.Journal.Dir != "" {
		a.journal, err = journal.Open(cfg.Journal.Dir, func(path string) {
			log.Logf("journal: finished '%s'\n", path)
		})
		if err != nil {
			log.Close()
			return nil, err
		}
		storeOpts.OnMutation = func(m *store.Mutation) {
			// the change is already in the store, a journal failure
			// shouldn't fail it
			log.IfErrf(a.journal.Record(m))
		}
	}
	a.store, err = store.Open[*invoice.Invoice](cfg.Store.Dir, storeOpts)
	if err != nil {
		a.Close()
		return nil, err
	}
	log.Verbosef("opened store '%s'\n", a.store.Path())
	return a, nil
}

func (a *app) Close() {
	log.IfErrf(a.journal.Close())
	log.Close()
}
