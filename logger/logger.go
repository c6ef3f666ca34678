// Package logger provides adapters for popular logger libraries to work
// with bcachefs's Logger interface.
//
// The adapters allow you to use your existing logger without writing
// boilerplate. Note that the standard library's slog.Logger already
// implements bcachefs.Logger directly.
//
// Example with zap:
//
//	import (
//	    bcachefs "github.com/kode54/bcachefs-tools"
//	    "github.com/kode54/bcachefs-tools/logger"
//	    "go.uber.org/zap"
//	)
//
//	func main() {
//	    zapLogger, _ := zap.NewProduction()
//
//	    devices := []bcachefs.DeviceSpec{{Path: "/dev/sdb1", Buckets: 1024, BucketSectors: 1024}}
//	    fs, err := bcachefs.Mount("/var/lib/bcachefs/journal", devices, bcachefs.WithLogger(logger.NewZap(zapLogger)))
//	    if err != nil {
//	        panic(err)
//	    }
//	    defer fs.Unmount()
//	}
package logger
