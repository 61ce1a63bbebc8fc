package main

import (
	"context"
	"log"
	"net/http"

	"github.com/mnehpets/rpcserve/jsonrpc"
	"github.com/mnehpets/rpcserve/middleware"
	"github.com/mnehpets/rpcserve/rpchttp"
)

type MathMethods struct{}

func (m *MathMethods) Add(ctx context.Context, args struct {
	A int `json:"a"`
	B int `json:"b"`
}) (int, error) {
	return args.A + args.B, nil
}

func (m *MathMethods) Sub(ctx context.Context, args struct {
	A int `json:"a"`
	B int `json:"b"`
}) (int, error) {
	return args.A - args.B, nil
}

// Try:
//
//	curl -d '{"jsonrpc":"2.0","method":"math.Add","params":[1,2],"id":1}' localhost:8080/rpc
//	curl 'localhost:8080/rpc?method=math.Sub&id=2&params=%7B%22a%22:5,%22b%22:3%7D'
func main() {
	d := jsonrpc.NewDispatcher(nil)
	d.Register("math", &MathMethods{})

	srv := rpchttp.NewServer(d,
		rpchttp.WithProcessors(middleware.NewSecurityHeadersProcessor(middleware.WithHSTS(0))),
	)
	http.Handle("/rpc", srv)

	log.Println("Starting server on :8080")
	log.Fatal(http.ListenAndServe(":8080", nil))
}
