package hostfuncs

import (
	"context"

	"github.com/tetratelabs/wazero"

	"github.com/dnswasm/dnswasm/internal/abi"
)

// Instantiate builds and instantiates the "env" host module a guest
// imports its capability functions from, one per wazero.Runtime (the
// module is shared across every isolate drawn from that runtime), the
// same shape as the retrieved wudi-gateway plugin host's
// registerHostFunctions + InstantiateModule(..., "env") pair.
func Instantiate(ctx context.Context, rt wazero.Runtime) error {
	b := rt.NewHostModuleBuilder("env")

	b.NewFunctionBuilder().WithFunc(loadConfig).Export(abi.FuncLoadConfig)
	b.NewFunctionBuilder().WithFunc(callNextPlugin).Export(abi.FuncCallNextPlugin)

	b.NewFunctionBuilder().WithFunc(mapSet).Export(abi.FuncMapSet)
	b.NewFunctionBuilder().WithFunc(mapGet).Export(abi.FuncMapGet)
	b.NewFunctionBuilder().WithFunc(mapRemove).Export(abi.FuncMapRemove)

	b.NewFunctionBuilder().WithFunc(udpBind).Export(abi.FuncUDPBind)
	b.NewFunctionBuilder().WithFunc(udpConnect).Export(abi.FuncUDPConnect)
	b.NewFunctionBuilder().WithFunc(udpSend).Export(abi.FuncUDPSend)
	b.NewFunctionBuilder().WithFunc(udpSendTo).Export(abi.FuncUDPSendTo)
	b.NewFunctionBuilder().WithFunc(udpRecv).Export(abi.FuncUDPRecv)
	b.NewFunctionBuilder().WithFunc(udpRecvFrom).Export(abi.FuncUDPRecvFrom)
	b.NewFunctionBuilder().WithFunc(udpClose).Export(abi.FuncUDPClose)

	b.NewFunctionBuilder().WithFunc(tcpBind).Export(abi.FuncTCPBind)
	b.NewFunctionBuilder().WithFunc(tcpAccept).Export(abi.FuncTCPAccept)
	b.NewFunctionBuilder().WithFunc(tcpConnect).Export(abi.FuncTCPConnect)
	b.NewFunctionBuilder().WithFunc(tcpWrite).Export(abi.FuncTCPWrite)
	b.NewFunctionBuilder().WithFunc(tcpFlush).Export(abi.FuncTCPFlush)
	b.NewFunctionBuilder().WithFunc(tcpRead).Export(abi.FuncTCPRead)
	b.NewFunctionBuilder().WithFunc(tcpClose).Export(abi.FuncTCPClose)

	_, err := b.Instantiate(ctx)
	return err
}
