package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/ruteri/chunkstore/api"
	"github.com/ruteri/chunkstore/api/clients"
	"github.com/ruteri/chunkstore/cmd/flags"
	"github.com/ruteri/chunkstore/interfaces"
	"github.com/urfave/cli/v2"
)

var (
	flagTags = &cli.StringSliceFlag{
		Name:  "tags",
		Usage: "tag attached to every imported chunk, repeatable",
	}
	flagProps = &cli.StringSliceFlag{
		Name:  "props",
		Usage: "key:value property attached to every imported chunk, repeatable",
	}
	flagContentType = &cli.StringFlag{
		Name:  "content-type",
		Usage: "media type of the imported files; detected from the content if empty",
	}
	flagOutput = &cli.StringFlag{
		Name:    "output",
		Aliases: []string{"o"},
		Usage:   "file to write the exported document to instead of stdout",
	}
)

func main() {
	app := &cli.App{
		Name:  "chunkstore",
		Usage: "Import, export and delete documents in a chunk store server",
		Flags: append([]cli.Flag{flags.ServerAddrFlag}, flags.LogFlags...),
		Commands: []*cli.Command{
			{
				Name:      "import",
				Usage:     "split files into chunks and add them to a layer",
				ArgsUsage: "FILE...",
				Flags:     []cli.Flag{flags.LayerFlag, flagTags, flagProps, flagContentType},
				Action:    importFiles,
			},
			{
				Name:   "export",
				Usage:  "merge the chunks matching a query into one document",
				Flags:  []cli.Flag{flags.LayerFlag, flags.SearchFlag, flagOutput},
				Action: exportLayer,
			},
			{
				Name:   "delete",
				Usage:  "delete the chunks matching a query",
				Flags:  []cli.Flag{flags.LayerFlag, flags.SearchFlag},
				Action: deleteChunks,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newClient(cCtx *cli.Context) *clients.StoreClient {
	return clients.NewStoreClient(cCtx.String(flags.ServerAddrFlag.Name))
}

func importFiles(cCtx *cli.Context) error {
	if cCtx.NArg() == 0 {
		return cli.Exit("no files to import", 1)
	}
	logger := flags.SetupLogger(cCtx)
	client := newClient(cCtx)
	layer := cCtx.String(flags.LayerFlag.Name)

	opts := interfaces.AddOptions{
		Tags:       cCtx.StringSlice(flagTags.Name),
		Properties: api.ParseProperties(strings.Join(cCtx.StringSlice(flagProps.Name), ",")),
	}

	for _, path := range cCtx.Args().Slice() {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		resp, err := client.Import(cCtx.Context, layer, f, contentType(cCtx, path), opts)
		f.Close()
		if err != nil {
			return fmt.Errorf("importing %s: %w", path, err)
		}
		logger.Info("Imported file",
			"file", path,
			"layer", layer,
			"correlation_id", resp.CorrelationID,
			"chunks", resp.Chunks)
	}
	return nil
}

func contentType(cCtx *cli.Context, path string) string {
	if ct := cCtx.String(flagContentType.Name); ct != "" {
		return ct
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xml", ".gml":
		return interfaces.MimeTypeXML
	case ".json", ".geojson":
		return interfaces.MimeTypeGeoJSON
	}
	return ""
}

func exportLayer(cCtx *cli.Context) error {
	var out io.Writer = os.Stdout
	if path := cCtx.String(flagOutput.Name); path != "" {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}

	_, err := newClient(cCtx).Export(cCtx.Context, cCtx.String(flags.LayerFlag.Name), cCtx.String(flags.SearchFlag.Name), out)
	return err
}

func deleteChunks(cCtx *cli.Context) error {
	resp, err := newClient(cCtx).Delete(cCtx.Context, cCtx.String(flags.LayerFlag.Name), cCtx.String(flags.SearchFlag.Name))
	if resp != nil {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if eerr := enc.Encode(resp); eerr != nil && err == nil {
			err = eerr
		}
	}
	return err
}
