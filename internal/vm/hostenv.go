package vm

import (
	"fmt"

	"github.com/wasmerio/wasmer-go/wasmer"
	"go.uber.org/zap"

	"github.com/empower1/empower1/internal/storage"
)

// hostEnv is passed to every host function call. It carries the
// execution's storage view, gas tank, and the deterministic call
// context (spec.md §4.7's host ABI surface).
type hostEnv struct {
	ctx     CallContext
	gasTank *GasTank
	memory  *wasmer.Memory
	store   *storage.Store
	logger  *zap.Logger
	logs    []string
}

var _ wasmer.WasmerEnv = (*hostEnv)(nil)

// OnInstantiated links the host environment to the instance's exported
// linear memory once Wasmer has finished instantiation.
func (h *hostEnv) OnInstantiated(instance *wasmer.Instance) error {
	memory, err := instance.Exports.GetMemory("memory")
	if err != nil {
		return fmt.Errorf("vm: module does not export linear memory: %w", err)
	}
	h.memory = memory
	return nil
}

func (h *hostEnv) readMemory(ptr, length int32) ([]byte, error) {
	if h.memory == nil {
		return nil, ErrMemoryNotLinked
	}
	data := h.memory.Data()
	if ptr < 0 || length < 0 || int64(ptr)+int64(length) > int64(len(data)) {
		return nil, ErrMemoryOutOfBounds
	}
	out := make([]byte, length)
	copy(out, data[ptr:ptr+length])
	return out, nil
}

func (h *hostEnv) writeMemory(ptr int32, value []byte) error {
	if h.memory == nil {
		return ErrMemoryNotLinked
	}
	data := h.memory.Data()
	if ptr < 0 || int64(ptr)+int64(len(value)) > int64(len(data)) {
		return ErrMemoryOutOfBounds
	}
	copy(data[ptr:ptr+int32(len(value))], value)
	return nil
}

func (h *hostEnv) contractKey(key []byte) string {
	return h.ctx.ContractAddress + ":" + string(key)
}
