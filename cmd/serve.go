package cmd

import (
	"context"
	"log/slog"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rs/cors"
	"github.com/spf13/cobra"

	"github.com/lightshowd/lightshowd/broadcast"
	"github.com/lightshowd/lightshowd/constants"
	"github.com/lightshowd/lightshowd/control"
	"github.com/lightshowd/lightshowd/db"
	"github.com/lightshowd/lightshowd/model"
	"github.com/lightshowd/lightshowd/playlist"
	"github.com/lightshowd/lightshowd/space"
	"github.com/lightshowd/lightshowd/util"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the show server",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := newLogger()

		tracksPath := constants.GetTracksPath()
		pl := playlist.New(tracksPath, constants.GetLastPlayRange(), logger)
		tracks, err := pl.Load(constants.PlaylistFile, playlist.LoadOptions{})
		if err != nil {
			return err
		}
		logger.Info("Playlist loaded.", "tracks", len(tracks))
		enrichTracks(tracks, logger)

		spaces := space.New(constants.GetSpacesPath(), logger)
		spaceFile := filepath.Join(constants.GetSpacesPath(), constants.GetSpaceFile())
		if err := spaces.Load(spaceFile); err != nil {
			logger.Warn("No space layout loaded.", "file", spaceFile, "err", err)
		}

		hub := broadcast.NewHub(logger)
		cc := control.New(control.Options{
			Playlist: pl,
			Spaces:   spaces,
			IO:       hub,
			Logger:   logger,
		})
		hub.OnConnect = func(c *broadcast.Client) { cc.HandleConnection(c) }
		hub.OnDisconnect = func(c *broadcast.Client) { cc.HandleDisconnect(c) }
		hub.OnMessage = func(c *broadcast.Client, msg broadcast.Message) {
			cc.HandleMessage(c, msg.Event, msg.Args)
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if hubAddr := constants.GetHubAddress(); hubAddr != "" {
			leaf := broadcast.NewLeafClient(hubAddr, cc, logger)
			go leaf.Run(ctx)
			logger.Info("Running as leaf node.", "hub", hubAddr)
		}

		router := NewRouter(pl, cc, hub, logger)

		addr := ":" + constants.GetPort()
		server := &http.Server{
			Addr:    addr,
			Handler: cors.AllowAll().Handler(router),
		}
		go func() {
			<-ctx.Done()
			cc.StopTrack()
			server.Close()
		}()

		logger.Info("Server listening.", "addr", addr)
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			return err
		}
		return nil
	},
}

// enrichTracks backfills artist names from the metadata table for
// tracks the playlist manifest leaves blank. Lookup failures only cost
// the enrichment.
func enrichTracks(tracks []*model.Track, logger *slog.Logger) {
	if constants.GetMetadataTable() == "" {
		return
	}
	var missing []*model.Track
	for _, t := range tracks {
		if t.Artist == "" {
			missing = append(missing, t)
		}
	}
	for start := 0; start < len(missing); start += 10 {
		batch := missing[start:util.Min(start+10, len(missing))]
		files := make([]string, len(batch))
		for i, t := range batch {
			files[i] = t.File
		}
		metas, err := db.GetTrackMetadatas(files)
		if err != nil {
			logger.Warn("Track metadata lookup failed.", "err", err)
			return
		}
		for _, t := range batch {
			if meta, ok := metas[t.File]; ok {
				t.Artist = meta.Artist
			}
		}
	}
}
