// Package loader reads and writes convolutional network weights in the
// SafeTensors format.
//
// Supported layouts:
//   - Canonical: "block1_conv1.weight" as [out, in, kh, kw] plus "block1_conv1.bias"
//   - Keras export: "block1_conv1/kernel:0" as [kh, kw, in, out] plus "block1_conv1/bias:0"
//
// Stored dtypes F32, F64, F16 and BF16 are all decoded to float32.
//
// Example:
//
//	r, err := loader.NewSafeTensorsReader("vgg16.safetensors")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer r.Close()
//
//	mapper, err := loader.DetectMapper(r.TensorNames())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	stateDict, err := loader.LoadStateDict(r, mapper)
//
// Design principles:
//   - Pure Go: No CGO dependencies
//   - Lazy loading: Load tensors on-demand
package loader
