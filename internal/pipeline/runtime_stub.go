//go:build !govips || !cgo

package pipeline

const (
	BackendName = "stdlib"
	LossyWebP   = encoderLossyWebP
)

func Startup() error {
	return nil
}

func Shutdown() {}

func newTransformer() (Transformer, error) {
	return stdlibTransformer{}, nil
}
