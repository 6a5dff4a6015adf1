package vm

import (
	"crypto/ed25519"
	"crypto/sha256"
	"fmt"

	"github.com/wasmerio/wasmer-go/wasmer"
)

const (
	gasCostStorageBase = 100
	gasCostLogBase     = 10
	gasCostPerByte     = 1
	gasCostCryptoBase  = 200
)

// buildImports registers the env module's host function ABI, per
// spec.md §4.7: storage_read/write, emit_log, block/caller/value
// accessors, and the two crypto primitives contracts may call into
// rather than reimplement (sha256, ed25519 verify).
func (e *Engine) buildImports(store *wasmer.Store, env *hostEnv) *wasmer.ImportObject {
	importObject := wasmer.NewImportObject()
	io := wasmer.NewValueTypes
	i32, i64 := wasmer.I32, wasmer.I64

	imports := map[string]wasmer.IntoExtern{
		"storage_read":  wasmer.NewFunctionWithEnvironment(store, wasmer.NewFunctionType(io(i32, i32, i32, i32), io(i32)), env, hostStorageRead),
		"storage_write": wasmer.NewFunctionWithEnvironment(store, wasmer.NewFunctionType(io(i32, i32, i32, i32), io(i32)), env, hostStorageWrite),
		"emit_log":      wasmer.NewFunctionWithEnvironment(store, wasmer.NewFunctionType(io(i32, i32), io()), env, hostEmitLog),
		"block_number":  wasmer.NewFunctionWithEnvironment(store, wasmer.NewFunctionType(io(), io(i64)), env, hostBlockNumber),
		"block_timestamp": wasmer.NewFunctionWithEnvironment(store, wasmer.NewFunctionType(io(), io(i64)), env, hostBlockTimestamp),
		"caller_address":  wasmer.NewFunctionWithEnvironment(store, wasmer.NewFunctionType(io(i32, i32), io(i32)), env, hostCallerAddress),
		"call_value":      wasmer.NewFunctionWithEnvironment(store, wasmer.NewFunctionType(io(), io(i64)), env, hostCallValue),
		"sha256":          wasmer.NewFunctionWithEnvironment(store, wasmer.NewFunctionType(io(i32, i32, i32), io(i32)), env, hostSHA256),
		"ed25519_verify":  wasmer.NewFunctionWithEnvironment(store, wasmer.NewFunctionType(io(i32, i32, i32, i32, i32), io(i32)), env, hostEd25519Verify),
	}
	importObject.Register("env", imports)
	return importObject
}

func envOf(e interface{}) *hostEnv { return e.(*hostEnv) }

// storage_read(key_ptr, key_len, ret_ptr, ret_len) -> actual_len (0 if absent)
func hostStorageRead(e interface{}, args []wasmer.Value) ([]wasmer.Value, error) {
	env := envOf(e)
	if err := env.gasTank.ConsumeGas(gasCostStorageBase); err != nil {
		return []wasmer.Value{wasmer.NewI32(0)}, err
	}
	key, err := env.readMemory(args[0].I32(), args[1].I32())
	if err != nil {
		return nil, err
	}
	value, err := env.store.Get(ksContractStorage, env.contractKey(key))
	if err != nil {
		return []wasmer.Value{wasmer.NewI32(0)}, nil
	}
	if err := env.gasTank.ConsumeGas(uint64(len(value))); err != nil {
		return []wasmer.Value{wasmer.NewI32(0)}, err
	}
	retPtr, retLen := args[2].I32(), args[3].I32()
	toCopy := int32(len(value))
	if toCopy > retLen {
		toCopy = retLen
	}
	if toCopy > 0 {
		if err := env.writeMemory(retPtr, value[:toCopy]); err != nil {
			return nil, err
		}
	}
	return []wasmer.Value{wasmer.NewI32(int32(len(value)))}, nil
}

// storage_write(key_ptr, key_len, val_ptr, val_len) -> 0 on success
func hostStorageWrite(e interface{}, args []wasmer.Value) ([]wasmer.Value, error) {
	env := envOf(e)
	if err := env.gasTank.ConsumeGas(gasCostStorageBase); err != nil {
		return []wasmer.Value{wasmer.NewI32(1)}, err
	}
	key, err := env.readMemory(args[0].I32(), args[1].I32())
	if err != nil {
		return nil, err
	}
	value, err := env.readMemory(args[2].I32(), args[3].I32())
	if err != nil {
		return nil, err
	}
	if err := env.gasTank.ConsumeGas(uint64(len(key) + len(value))); err != nil {
		return []wasmer.Value{wasmer.NewI32(1)}, err
	}
	if err := env.store.Put(ksContractStorage, env.contractKey(key), value); err != nil {
		return []wasmer.Value{wasmer.NewI32(1)}, fmt.Errorf("vm: storage_write: %w", err)
	}
	return []wasmer.Value{wasmer.NewI32(0)}, nil
}

// emit_log(msg_ptr, msg_len) -> ()
func hostEmitLog(e interface{}, args []wasmer.Value) ([]wasmer.Value, error) {
	env := envOf(e)
	if err := env.gasTank.ConsumeGas(gasCostLogBase); err != nil {
		return nil, err
	}
	msg, err := env.readMemory(args[0].I32(), args[1].I32())
	if err != nil {
		return nil, err
	}
	if err := env.gasTank.ConsumeGas(uint64(len(msg)) * gasCostPerByte); err != nil {
		return nil, err
	}
	env.logs = append(env.logs, string(msg))
	return []wasmer.Value{}, nil
}

func hostBlockNumber(e interface{}, args []wasmer.Value) ([]wasmer.Value, error) {
	env := envOf(e)
	return []wasmer.Value{wasmer.NewI64(env.ctx.BlockHeight)}, nil
}

func hostBlockTimestamp(e interface{}, args []wasmer.Value) ([]wasmer.Value, error) {
	env := envOf(e)
	return []wasmer.Value{wasmer.NewI64(uint64(env.ctx.BlockTimestamp))}, nil
}

func hostCallValue(e interface{}, args []wasmer.Value) ([]wasmer.Value, error) {
	env := envOf(e)
	return []wasmer.Value{wasmer.NewI64(env.ctx.Value)}, nil
}

// caller_address(ret_ptr, ret_len) -> actual_len
func hostCallerAddress(e interface{}, args []wasmer.Value) ([]wasmer.Value, error) {
	env := envOf(e)
	addr := []byte(env.ctx.CallerAddress)
	retPtr, retLen := args[0].I32(), args[1].I32()
	toCopy := int32(len(addr))
	if toCopy > retLen {
		toCopy = retLen
	}
	if toCopy > 0 {
		if err := env.writeMemory(retPtr, addr[:toCopy]); err != nil {
			return nil, err
		}
	}
	return []wasmer.Value{wasmer.NewI32(int32(len(addr)))}, nil
}

// sha256(data_ptr, data_len, ret_ptr) -> 0 on success; ret_ptr must have 32 bytes available.
func hostSHA256(e interface{}, args []wasmer.Value) ([]wasmer.Value, error) {
	env := envOf(e)
	if err := env.gasTank.ConsumeGas(gasCostCryptoBase); err != nil {
		return []wasmer.Value{wasmer.NewI32(1)}, err
	}
	data, err := env.readMemory(args[0].I32(), args[1].I32())
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(data)
	if err := env.writeMemory(args[2].I32(), sum[:]); err != nil {
		return nil, err
	}
	return []wasmer.Value{wasmer.NewI32(0)}, nil
}

// ed25519_verify(pubkey_ptr, pubkey_len, msg_ptr, msg_len, sig_ptr) -> 1 if valid else 0
func hostEd25519Verify(e interface{}, args []wasmer.Value) ([]wasmer.Value, error) {
	env := envOf(e)
	if err := env.gasTank.ConsumeGas(gasCostCryptoBase); err != nil {
		return []wasmer.Value{wasmer.NewI32(0)}, err
	}
	pub, err := env.readMemory(args[0].I32(), args[1].I32())
	if err != nil {
		return nil, err
	}
	msg, err := env.readMemory(args[2].I32(), args[3].I32())
	if err != nil {
		return nil, err
	}
	sig, err := env.readMemory(args[4].I32(), int32(ed25519.SignatureSize))
	if err != nil {
		return nil, err
	}
	if len(pub) != ed25519.PublicKeySize {
		return []wasmer.Value{wasmer.NewI32(0)}, nil
	}
	if ed25519.Verify(pub, msg, sig) {
		return []wasmer.Value{wasmer.NewI32(1)}, nil
	}
	return []wasmer.Value{wasmer.NewI32(0)}, nil
}
