// Package main provides retinactl, the command line front end for the
// retinal lesion pipeline.
//
// Usage:
//
//	retinactl analyze eye.png
//	retinactl batch ./images --output ./reports
//	retinactl evaluate ./images ./ground-truth
//
// See --help for all available options.
package main

func main() {
	Execute()
}
