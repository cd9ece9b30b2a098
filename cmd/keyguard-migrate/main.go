// keyguard-migrate is a standalone recovery/rewrite tool for the slot
// database, kept separate from the keyguardd binary: a one-shot operator
// tool has no business linking the daemon's RPC/broker stack.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/keyguard/keyguardd/pkg/access"
	"github.com/keyguard/keyguardd/pkg/keystore"
)

var (
	dbPath     = flag.String("db", "/var/lib/keyguardd/slots.db", "Path to the key slot database")
	dryRun     = flag.Bool("dry-run", false, "Open and validate the database without rewriting it")
	backupPath = flag.String("backup", "", "Path to back up the database before rewriting (default: <db>.backup)")
)

func main() {
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("keyguardd slot database migration tool")
	log.Println("=======================================")

	if _, err := os.Stat(*dbPath); os.IsNotExist(err) {
		log.Fatalf("database not found at %s", *dbPath)
	}

	log.Printf("Database: %s", *dbPath)
	log.Printf("Dry run: %v", *dryRun)

	if !*dryRun {
		backupFile := *backupPath
		if backupFile == "" {
			backupFile = *dbPath + ".backup"
		}
		log.Printf("Creating backup: %s", backupFile)
		if err := copyFile(*dbPath, backupFile); err != nil {
			log.Fatalf("failed to create backup: %v", err)
		}
		log.Println("backup created successfully")
	}

	// Opening the engine runs the exact same load-and-validate path the
	// daemon itself runs at startup (spec.md §6: "Any malformed slot file
	// aborts startup with a precise error rather than proceeding with a
	// partial database"), so a clean Open here is the validation step.
	engine, err := keystore.Open(*dbPath, access.Disabled(), nil)
	if err != nil {
		log.Fatalf("database failed validation: %v", err)
	}
	defer engine.Close()

	slotCount := engine.SlotCount()
	log.Printf("validated %d slot records", slotCount)

	if *dryRun {
		log.Println("dry run completed, no changes made")
		return
	}

	rewritten, err := engine.Compact()
	if err != nil {
		log.Fatalf("rewrite failed: %v", err)
	}
	fmt.Printf("rewrote %d slot records onto the current schema\n", rewritten)
}

func copyFile(src, dst string) error {
	input, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, input, 0600)
}
