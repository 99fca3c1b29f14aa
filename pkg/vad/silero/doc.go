// Package silero scores frames with the Silero VAD ONNX model.
//
// The model runs through github.com/yalue/onnxruntime_go and needs the ONNX
// Runtime shared library at run time, so the implementation is only compiled
// with the "silero" build tag:
//
//	go build -tags silero ./cmd/shadowalign
//
// Silero consumes fixed windows of 512 samples at 16 kHz (256 at 8 kHz).
// Frames of any other length are re-blocked internally and each frame is
// scored with the highest window probability that overlaps it.
package silero

// EngineName is the name the engine registers under.
const EngineName = "silero"
