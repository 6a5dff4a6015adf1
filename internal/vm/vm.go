// Package vm implements the deterministic WASM contract execution
// engine of spec.md §4.7: gas-metered Wasmer execution over a banned
// floating-point instruction set, with a host function ABI for
// contract storage, logging, and deterministic context accessors.
// Grounded on internal/vm/{vm.go,gas.go,host_functions.go}'s Wasmer
// lifecycle idiom (per-execution engine/store/module/instance,
// WasmerEnv linking, host import registration) and retargeted from the
// teacher's P256/state-package stubs onto internal/storage and the
// spec's ABI.
package vm

import (
	"errors"
	"fmt"

	"github.com/wasmerio/wasmer-go/wasmer"
	"go.uber.org/zap"

	"github.com/empower1/empower1/internal/storage"
)

var (
	ErrWASMCompile       = errors.New("vm: failed to compile WASM module")
	ErrWASMInstantiate   = errors.New("vm: failed to instantiate WASM module")
	ErrWASMExportMissing = errors.New("vm: missing WASM export")
	ErrWASMExecution     = errors.New("vm: function execution failed")
	ErrOutOfGas          = errors.New("vm: execution halted: out of gas")
	ErrMemoryNotLinked   = errors.New("vm: host memory not linked to environment")
	ErrMemoryOutOfBounds = errors.New("vm: memory access out of bounds")

	ksContractCode    = "contract_code"
	ksContractStorage = "contract_storage"
)

const baseExecutionCost = 100

// Engine executes WASM contracts against a storage-backed state view.
type Engine struct {
	store  *storage.Store
	logger *zap.Logger
}

func NewEngine(store *storage.Store, logger *zap.Logger) *Engine {
	return &Engine{store: store, logger: logger}
}

// DeployContract stores wasmCode under contractAddress after rejecting
// any floating-point instruction, per spec.md §4.7's admission rule.
func (e *Engine) DeployContract(contractAddress string, wasmCode []byte) error {
	if err := ScanForFloatingPoint(wasmCode); err != nil {
		return err
	}
	if _, err := wasmer.NewModule(wasmer.NewStore(wasmer.NewEngine()), wasmCode); err != nil {
		return fmt.Errorf("%w: %v", ErrWASMCompile, err)
	}
	return e.store.Put(ksContractCode, contractAddress, wasmCode)
}

// ExecuteContract loads, instantiates, and invokes one exported
// function of a previously deployed contract. A fresh Wasmer
// engine/store/instance is created per call for isolation, matching
// the teacher's per-execution lifecycle.
func (e *Engine) ExecuteContract(ctx CallContext, callArgs []byte) (*ContractResult, error) {
	wasmCode, err := e.store.Get(ksContractCode, ctx.ContractAddress)
	if err != nil {
		return nil, fmt.Errorf("vm: load contract %s: %w", ctx.ContractAddress, err)
	}

	gasTank := NewGasTank(ctx.GasLimit)
	engine := wasmer.NewEngine()
	wstore := wasmer.NewStore(engine)
	defer wstore.Close()

	module, err := wasmer.NewModule(wstore, wasmCode)
	if err != nil {
		return failResult(gasTank, fmt.Errorf("%w: %v", ErrWASMCompile, err)), nil
	}
	defer module.Close()

	env := &hostEnv{ctx: ctx, gasTank: gasTank, store: e.store, logger: e.logger}
	importObject := e.buildImports(wstore, env)

	if err := gasTank.ConsumeGas(baseExecutionCost); err != nil {
		return failResult(gasTank, ErrOutOfGas), nil
	}

	instance, err := wasmer.NewInstance(module, importObject)
	if err != nil {
		return failResult(gasTank, fmt.Errorf("%w: %v", ErrWASMInstantiate, err)), nil
	}
	defer instance.Close()

	if env.memory == nil {
		return failResult(gasTank, ErrWASMExportMissing), nil
	}

	fn, err := instance.Exports.GetFunction(ctx.FunctionName)
	if err != nil {
		return failResult(gasTank, fmt.Errorf("%w: %s", ErrWASMExportMissing, ctx.FunctionName)), nil
	}

	argPtr, argLen, err := writeCallArgs(env, instance, callArgs)
	if err != nil {
		return failResult(gasTank, err), nil
	}

	raw, err := fn(argPtr, argLen)
	if err != nil {
		if gasTank.GasRemaining() == 0 {
			return failResult(gasTank, ErrOutOfGas), nil
		}
		return failResult(gasTank, fmt.Errorf("%w: %v", ErrWASMExecution, err)), nil
	}

	returnData, err := readReturnValue(env, raw)
	if err != nil {
		return failResult(gasTank, err), nil
	}

	return &ContractResult{
		Success:    true,
		ReturnData: returnData,
		GasUsed:    gasTank.GasConsumed(),
		Logs:       env.logs,
	}, nil
}

func failResult(gasTank *GasTank, err error) *ContractResult {
	return &ContractResult{Success: false, GasUsed: gasTank.GasConsumed(), Error: err.Error()}
}

// writeCallArgs allocates space in the module's memory for callArgs
// via its exported "alloc" function and copies the bytes in, returning
// the pointer/length pair the entrypoint function expects.
func writeCallArgs(env *hostEnv, instance *wasmer.Instance, callArgs []byte) (int32, int32, error) {
	if len(callArgs) == 0 {
		return 0, 0, nil
	}
	alloc, err := instance.Exports.GetFunction("alloc")
	if err != nil {
		return 0, 0, fmt.Errorf("%w: alloc", ErrWASMExportMissing)
	}
	raw, err := alloc(int32(len(callArgs)))
	if err != nil {
		return 0, 0, fmt.Errorf("%w: alloc call failed: %v", ErrWASMExecution, err)
	}
	ptr, ok := raw.(int32)
	if !ok {
		return 0, 0, fmt.Errorf("%w: alloc did not return i32", ErrWASMExecution)
	}
	if err := env.writeMemory(ptr, callArgs); err != nil {
		return 0, 0, err
	}
	return ptr, int32(len(callArgs)), nil
}

// readReturnValue interprets a single i64 (ptr<<32|len) return value as
// a region of the module's memory. A void-returning entrypoint, or one
// returning any other type, yields no data.
func readReturnValue(env *hostEnv, raw interface{}) ([]byte, error) {
	if raw == nil {
		return nil, nil
	}
	packed, ok := raw.(int64)
	if !ok {
		return nil, nil
	}
	ptr := int32(packed >> 32)
	length := int32(packed & 0xffffffff)
	if length == 0 {
		return nil, nil
	}
	return env.readMemory(ptr, length)
}
