// Package pagedex embeds the pagedex document index in a Go program.
//
// An Engine owns one index: the page catalog, the vector and keyword
// backends and the embedding client, all configured from the same YAML
// file the API server reads. It indexes files synchronously, which suits
// batch tools and tests; the HTTP server and its worker pool are optional.
//
//	eng, err := pagedex.New(ctx,
//	    pagedex.WithConfigFile("config/local.yaml"),
//	    pagedex.WithDocumentsRoot("/srv/documents"),
//	)
//	if err != nil {
//	    return err
//	}
//	defer eng.Close()
//
//	report, _ := eng.Reindex(ctx, pagedex.ReindexOptions{Recursive: true, Workers: 4})
//	res, _ := eng.Search(ctx, pagedex.SearchRequest{
//	    Query:    "plan de continuité",
//	    Division: "DSI",
//	})
package pagedex
