package main

import (
	"context"
	"log"

	"github.com/valyala/fasthttp"

	"github.com/mnehpets/rpcserve/jsonrpc"
	"github.com/mnehpets/rpcserve/rpchttp"
)

type GreetMethods struct{}

func (g *GreetMethods) Hello(ctx context.Context, args struct {
	Name string `json:"name"`
}) (string, error) {
	return "hello, " + args.Name, nil
}

// Every RPC outcome maps to 200; clients read the error from the envelope.
func alwaysOK(code int) int { return fasthttp.StatusOK }

func main() {
	d := jsonrpc.NewDispatcher(nil)
	d.Register("greet", &GreetMethods{})

	srv := rpchttp.NewServer(d,
		rpchttp.WithContentType("application/json"),
		rpchttp.WithStatusCodeProvider(rpchttp.StatusCodeProviderFunc(alwaysOK)),
	)

	log.Println("Starting server on :8080")
	log.Fatal(fasthttp.ListenAndServe(":8080", srv.ServeFastHTTP))
}
