package main

import (
	"context"
	"fmt"
	"os"

	dbm "github.com/cometbft/cometbft-db"
	"github.com/rs/zerolog"

	wasmhost "github.com/contractvm/wasmhost"
	"github.com/contractvm/wasmhost/types"
)

const gasLimit = 1_000_000

// This is just a demo to ensure we can compile a static go binary
func main() {
	file := os.Args[1]
	fmt.Printf("Running %s...\n", file)
	code, err := os.ReadFile(file)
	if err != nil {
		panic(err)
	}
	fmt.Println("Loaded!")

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	vm, err := wasmhost.NewVM(wasmhost.Config{
		Logger:     &logger,
		KeyManager: wasmhost.NewInMemoryKeyManager([]byte("demo master secret")),
	}, wasmhost.NewDBStore(dbm.NewMemDB()))
	if err != nil {
		panic(err)
	}
	defer vm.Close(context.Background())

	uploader := types.NewAddressForModule("accounts", []byte("demo"))
	uploaded, err := vm.UploadCode(1, uploader, types.ABIContractV1, types.PolicyEveryone(), code)
	if err != nil {
		panic(err)
	}
	fmt.Printf("Stored code 1 with hash: %s\n", uploaded.Hash)

	instance := &types.Instance{
		ID:             1,
		CodeID:         uploaded.ID,
		Creator:        uploader,
		UpgradesPolicy: types.PolicyEveryone(),
	}
	cc := wasmhost.CallContext{
		State:  wasmhost.NewDBStore(dbm.NewMemDB()),
		Block:  &wasmhost.BlockContext{Round: 1},
		Caller: uploader,
	}
	resp, gasUsed, err := vm.Instantiate(context.Background(), cc, uploaded, instance, nil, gasLimit)
	if err != nil {
		panic(err)
	}
	fmt.Printf("Instantiated at %s (gas used: %d, data: %X)\n", instance.Address(), gasUsed, resp.Data)
	fmt.Println("finished")
}
