package main

import (
	"context"
	"log/slog"

	"github.com/freekieb7/sheets/internal/database"
	"github.com/freekieb7/sheets/internal/database/memory"
	"github.com/freekieb7/sheets/internal/util"

	"github.com/google/uuid"
)

// demoNamespace derives stable principal ids so a restarted demo keeps them.
var demoNamespace = uuid.MustParse("7b0f3c1e-5a52-4d0b-9a8e-2f6c1d9e4b10")

// seedDemo fills an empty memory store with three units, one member each and
// an admin, and logs the ids to send as X-Principal-ID.
func seedDemo(store *memory.Store, log *slog.Logger) {
	filials := []database.Filial{
		{ID: 1, Name: "North", LongName: "Northern branch", ShortName: "N"},
		{ID: 2, Name: "South", LongName: "Southern branch", ShortName: "S"},
		{ID: 3, Name: "East", LongName: "Eastern branch", ShortName: "E"},
	}
	for _, f := range filials {
		store.AddFilial(f)
	}

	people := []struct {
		username string
		first    string
		last     string
		filial   util.Optional[int64]
	}{
		{"anna", "Anna", "de Vries", util.Some[int64](1)},
		{"bram", "Bram", "Jansen", util.Some[int64](2)},
		{"chris", "Chris", "Bakker", util.Some[int64](3)},
		{"admin", "Admin", "", util.None[int64]()},
	}
	for _, p := range people {
		principal := database.Principal{
			ID:        uuid.NewSHA1(demoNamespace, []byte(p.username)),
			Username:  p.username,
			FirstName: p.first,
			LastName:  p.last,
			FilialID:  p.filial,
		}
		store.AddPrincipal(principal)
		log.Info("Demo principal", "username", p.username, "id", principal.ID, "filial_id", p.filial)

		if p.username == "admin" {
			if err := store.CreateAdmin(context.Background(), principal.ID); err != nil {
				log.Error("Failed to mark demo admin", "error", err)
			}
		}
	}
}
