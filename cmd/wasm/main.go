//go:build js && wasm

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"syscall/js"
	"time"

	"github.com/hack-pad/hackpadfs/indexeddb"
	"github.com/rs/zerolog"

	"github.com/passionistravel/travelstore/internal/backup"
	"github.com/passionistravel/travelstore/internal/cache"
	"github.com/passionistravel/travelstore/internal/mirror"
	"github.com/passionistravel/travelstore/internal/repo"
	"github.com/passionistravel/travelstore/internal/schema"
	"github.com/passionistravel/travelstore/internal/store"
)

// Version info
const Version = "1.0.0"

// IndexedDB database holding the mirror files.
const mirrorDB = "passionisTravel"

// Global state
var (
	mu         sync.Mutex
	repository *repo.Repository
	log        = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, NoColor: true}).With().Timestamp().Logger()
)

var errNotInitialized = errors.New("store not initialized: call initialize() first")

func main() {
	println("[TravelStore] WASM Ready v" + Version)

	js.Global().Set("TravelStore", js.ValueOf(map[string]interface{}{
		"version":          js.FuncOf(getVersion),
		"initialize":       js.FuncOf(initialize),
		"mode":             js.FuncOf(mode),
		"getAll":           js.FuncOf(getAll),
		"getById":          js.FuncOf(getByID),
		"add":              js.FuncOf(add),
		"update":           js.FuncOf(update),
		"delete":           js.FuncOf(remove),
		"clear":            js.FuncOf(clearCollection),
		"sync":             js.FuncOf(syncCollection),
		"getSettings":      js.FuncOf(getSettings),
		"saveSettings":     js.FuncOf(saveSettings),
		"getExpenseTypes":  js.FuncOf(getExpenseTypes),
		"saveExpenseTypes": js.FuncOf(bulkSaver(schema.Expenses)),
		"getProviders":     js.FuncOf(getter(schema.Providers)),
		"saveProviders":    js.FuncOf(bulkSaver(schema.Providers)),
		"getActivities":    js.FuncOf(getter(schema.Activities)),
		"saveActivities":   js.FuncOf(bulkSaver(schema.Activities)),
		"exportData":       js.FuncOf(exportData),
		"importData":       js.FuncOf(importData),
	}))

	select {}
}

func getVersion(this js.Value, args []js.Value) interface{} {
	return Version
}

// initialize opens the in-memory SQLite store and the IndexedDB mirror and
// runs the bootstrap sequence. The mirror is the only state that survives a
// page reload, so empty collections are restored from it.
func initialize(this js.Value, args []js.Value) interface{} {
	return promise(func(ctx context.Context) (any, error) {
		fsys, err := indexeddb.NewFS(ctx, mirrorDB, indexeddb.Options{})
		if err != nil {
			return nil, fmt.Errorf("open indexeddb: %w", err)
		}
		m, err := mirror.New(fsys)
		if err != nil {
			return nil, err
		}

		open := func(ctx context.Context) (store.Storer, error) {
			s, err := store.Open(ctx, store.Options{DSN: ":memory:", Logger: &log})
			if err != nil {
				return nil, err
			}
			return s, nil
		}
		in := repo.NewInitializer(open, m, cache.New(), repo.InitOptions{
			RestoreFromMirror: true,
			Logger:            &log,
		})
		r, err := in.Run(ctx)
		if err != nil {
			return nil, err
		}

		mu.Lock()
		if repository != nil {
			repository.Close()
		}
		repository = r
		mu.Unlock()

		return map[string]string{"state": in.State().String(), "mode": string(r.Mode())}, nil
	})
}

func mode(this js.Value, args []js.Value) interface{} {
	return withRepo(func(ctx context.Context, r *repo.Repository) (any, error) {
		return string(r.Mode()), nil
	})
}

// getAll: [collection string]
func getAll(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 {
		return rejected("getAll requires 1 argument: collection")
	}
	collection := args[0].String()
	return withRepo(func(ctx context.Context, r *repo.Repository) (any, error) {
		return r.GetAll(ctx, collection)
	})
}

// getById: [collection string, id string]
func getByID(this js.Value, args []js.Value) interface{} {
	if len(args) < 2 {
		return rejected("getById requires 2 arguments: collection, id")
	}
	collection, id := args[0].String(), args[1].String()
	return withRepo(func(ctx context.Context, r *repo.Repository) (any, error) {
		return r.GetByID(ctx, collection, id)
	})
}

// add: [collection string, recordJSON string]
func add(this js.Value, args []js.Value) interface{} {
	if len(args) < 2 {
		return rejected("add requires 2 arguments: collection, recordJSON")
	}
	collection := args[0].String()
	rec, err := schema.DecodeRecord([]byte(args[1].String()))
	if err != nil {
		return rejected("invalid record json: " + err.Error())
	}
	return withRepo(func(ctx context.Context, r *repo.Repository) (any, error) {
		return r.Add(ctx, collection, rec)
	})
}

// update: [collection string, recordJSON string]
func update(this js.Value, args []js.Value) interface{} {
	if len(args) < 2 {
		return rejected("update requires 2 arguments: collection, recordJSON")
	}
	collection := args[0].String()
	rec, err := schema.DecodeRecord([]byte(args[1].String()))
	if err != nil {
		return rejected("invalid record json: " + err.Error())
	}
	return withRepo(func(ctx context.Context, r *repo.Repository) (any, error) {
		return rec, r.Update(ctx, collection, rec)
	})
}

// delete: [collection string, id string]
func remove(this js.Value, args []js.Value) interface{} {
	if len(args) < 2 {
		return rejected("delete requires 2 arguments: collection, id")
	}
	collection, id := args[0].String(), args[1].String()
	return withRepo(func(ctx context.Context, r *repo.Repository) (any, error) {
		return true, r.Delete(ctx, collection, id)
	})
}

// clear: [collection string]
func clearCollection(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 {
		return rejected("clear requires 1 argument: collection")
	}
	collection := args[0].String()
	return withRepo(func(ctx context.Context, r *repo.Repository) (any, error) {
		return true, r.Clear(ctx, collection)
	})
}

// sync: [collection string] or [] for every collection
func syncCollection(this js.Value, args []js.Value) interface{} {
	collection := ""
	if len(args) > 0 {
		collection = args[0].String()
	}
	return withRepo(func(ctx context.Context, r *repo.Repository) (any, error) {
		if collection == "" {
			return true, r.SyncAll(ctx)
		}
		return true, r.Sync(ctx, collection)
	})
}

func getSettings(this js.Value, args []js.Value) interface{} {
	return withRepo(func(ctx context.Context, r *repo.Repository) (any, error) {
		return r.GetSettings(ctx), nil
	})
}

// saveSettings: [settingsJSON string]
func saveSettings(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 {
		return rejected("saveSettings requires 1 argument: settingsJSON")
	}
	rec, err := schema.DecodeRecord([]byte(args[0].String()))
	if err != nil {
		return rejected("invalid settings json: " + err.Error())
	}
	return withRepo(func(ctx context.Context, r *repo.Repository) (any, error) {
		if err := r.SaveSettings(ctx, rec); err != nil {
			return nil, err
		}
		return r.GetSettings(ctx), nil
	})
}

// getExpenseTypes: [type string] (optional)
func getExpenseTypes(this js.Value, args []js.Value) interface{} {
	typ := ""
	if len(args) > 0 && args[0].Type() == js.TypeString {
		typ = args[0].String()
	}
	return withRepo(func(ctx context.Context, r *repo.Repository) (any, error) {
		return r.GetExpenseTypes(ctx, typ)
	})
}

func getter(collection string) func(js.Value, []js.Value) interface{} {
	return func(this js.Value, args []js.Value) interface{} {
		return withRepo(func(ctx context.Context, r *repo.Repository) (any, error) {
			return r.GetAll(ctx, collection)
		})
	}
}

// bulkSaver replaces a whole collection: [listJSON string]
func bulkSaver(collection string) func(js.Value, []js.Value) interface{} {
	return func(this js.Value, args []js.Value) interface{} {
		if len(args) < 1 {
			return rejected("requires 1 argument: listJSON")
		}
		var list []schema.Record
		if err := json.Unmarshal([]byte(args[0].String()), &list); err != nil {
			return rejected("invalid list json: " + err.Error())
		}
		return withRepo(func(ctx context.Context, r *repo.Repository) (any, error) {
			return true, r.ReplaceAll(ctx, collection, list)
		})
	}
}

// exportData resolves to the backup document and its suggested file name.
func exportData(this js.Value, args []js.Value) interface{} {
	return withRepo(func(ctx context.Context, r *repo.Repository) (any, error) {
		doc, err := backup.Export(ctx, r)
		if err != nil {
			return nil, err
		}
		data, err := backup.Marshal(doc)
		if err != nil {
			return nil, err
		}
		return map[string]string{
			"fileName": backup.FileName(time.Now()),
			"content":  string(data),
		}, nil
	})
}

// importData: [backupJSON string]
func importData(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 {
		return rejected("importData requires 1 argument: backupJSON")
	}
	doc, err := backup.Parse([]byte(args[0].String()))
	if err != nil {
		return rejected(err.Error())
	}
	return withRepo(func(ctx context.Context, r *repo.Repository) (any, error) {
		return true, backup.Import(ctx, r, doc)
	})
}

// =============================================================================
// Promise plumbing
// =============================================================================

// withRepo runs fn against the initialized repository inside a Promise.
func withRepo(fn func(ctx context.Context, r *repo.Repository) (any, error)) js.Value {
	return promise(func(ctx context.Context) (any, error) {
		mu.Lock()
		r := repository
		mu.Unlock()
		if r == nil {
			return nil, errNotInitialized
		}
		return fn(ctx, r)
	})
}

// promise runs fn on its own goroutine and returns a JS Promise that
// resolves to fn's result as a JSON string, or rejects with an error JSON
// string. Blocking inside a js.FuncOf callback would deadlock on IndexedDB.
func promise(fn func(ctx context.Context) (any, error)) js.Value {
	executor := js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		resolve, reject := args[0], args[1]
		go func() {
			v, err := fn(context.Background())
			if err != nil {
				reject.Invoke(errorResult(err.Error()))
				return
			}
			data, err := json.Marshal(v)
			if err != nil {
				reject.Invoke(errorResult("encode result: " + err.Error()))
				return
			}
			resolve.Invoke(string(data))
		}()
		return nil
	})
	defer executor.Release()
	return js.Global().Get("Promise").New(executor)
}

// rejected returns an already-rejected Promise.
func rejected(msg string) js.Value {
	return js.Global().Get("Promise").Call("reject", errorResult(msg))
}

// Helper: Create error result
func errorResult(msg string) interface{} {
	result := map[string]interface{}{
		"error": msg,
	}
	jsonBytes, _ := json.Marshal(result)
	return string(jsonBytes)
}
