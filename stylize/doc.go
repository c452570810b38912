// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package stylize renders an image in the style of one or more other images
// (Gatys et al., "A Neural Algorithm of Artistic Style", 2015).
//
// # Overview
//
// A frozen VGG16 feature stack extracts activations from the content image,
// the style images and a combination image. The combination image is
// optimised with L-BFGS so its features match the content image at one
// layer and its Gram matrices match the style images at several layers,
// with a total variation term for smoothness.
//
// # Basic Usage
//
//	import "github.com/born-ml/styletransfer/stylize"
//
//	func main() {
//	    cfg := stylize.DefaultConfig()
//	    cfg.ContentPath = "photo.jpg"
//	    cfg.StylePaths = []string{"starry_night.jpg"}
//	    cfg.WeightsPath = "vgg16.safetensors"
//	    cfg.OutputPath = "result.png"
//
//	    res, err := stylize.Run(context.Background(), cfg)
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    fmt.Println(res.Loss, res.OutputPath)
//	}
//
// # Weights
//
// Pretrained weights are read from a SafeTensors file. Two naming schemes
// are recognised:
//
//	block1_conv1.weight   [out, in, 3, 3]   canonical
//	block1_conv1/kernel:0 [3, 3, in, out]   Keras export
//
// # Errors
//
// Failures can be matched with errors.Is against ErrInvalidImage,
// ErrShapeMismatch, ErrBridgeProtocol, ErrInvalidConfig and ErrWeights.
// ErrOptimizerFailure never fails a run; it marks entries of
// Result.Warnings.
package stylize
