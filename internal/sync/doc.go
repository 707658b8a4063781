// Package sync pushes audiobook chapters from a local directory to a device
// and records them in the chapter catalog.
//
// # Overview
//
// A book directory is named <title-slug>_<author-slug> and contains MP3
// chapter files. Syncing it resolves the book identity from the name,
// validates the audio files, and for each file decides by MD5 comparison
// whether the copy on the device is current:
//
//	books/dune_frank-herbert/
//	     ├── 01.mp3   local md5 == device md5  → skip
//	     ├── 02.mp3   local md5 != device md5  → transfer
//	     └── 03.mp3   not on device            → transfer
//	                         ↓
//	/sdcard/Audiobooks/BookReader/audio/Dune/
//	                         ↓
//	                 catalog (books, chapters)
//
// Whether or not a file was transferred, its chapter row is upserted with the
// measured duration, so a second run over an unchanged directory transfers
// nothing and writes nothing.
//
// Usage
//
//	database, err := catalog.Open("bookreader.db")
//	if err != nil {
//	    return err
//	}
//	defer database.Close()
//
//	engine := sync.New(database, device.NewADB(device.ADBConfig{}), sync.Options{})
//	report, err := engine.SyncDirectory(ctx, "books/dune_frank-herbert")
//
// # Error Handling
//
// Preconditions (directory, identity, device reachability) are checked before
// anything is written. After that, failures are per file:
//
//   - Validation rejects and duration failures are logged and counted
//   - A failed push skips the catalog upsert for that file only; the run
//     continues and returns ErrTransferFailed at the end
//   - Catalog errors abort the run
//
// # Dry Run
//
// With Options.DryRun the engine computes digests, durations and predicted
// catalog changes, prints one line per file, and performs no mkdir, push or
// catalog write.
package sync
