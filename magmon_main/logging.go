/*
	Copyright (c) 2023 Adrian Batzill
	Distributable under the terms of The "BSD New" License
	that can be found in the LICENSE file, herein included
	as part of this header.

	logging.go: Initialize go logging, watch log file size and rotate, delete old logs

*/

package main

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ricochet2200/go-disk-usage/du"
	"golang.org/x/exp/slices"
)

const (
	debugLogFile = "magmon.log"
	maxLogSize   = 10 * 1024 * 1024 // rotate above 10mb
	minFreeBytes = 50 * 1024 * 1024 // leave 50mb free
	maxLogNum    = 9
)

var logDir = "/var/log"
var debugLogf string // Set according to logDir.
var logFileHandle *os.File

func logSuffix(path string) int {
	parts := strings.Split(path, ".")
	n, err := strconv.Atoi(parts[len(parts)-1])
	if err != nil {
		return -1
	}
	return n
}

// getMagLogFiles returns the rotated logs, newest (.1) first.
func getMagLogFiles() []string {
	entries, err := os.ReadDir(logDir)
	magLogs := make([]string, 0)
	if err != nil {
		return magLogs
	}

	nums := make([]int, 0)
	for _, e := range entries {
		if n := logSuffix(e.Name()); strings.HasPrefix(e.Name(), debugLogFile+".") && n > 0 {
			nums = append(nums, n)
		}
	}
	slices.Sort(nums)
	for _, n := range nums {
		magLogs = append(magLogs, filepath.Join(logDir, debugLogFile+"."+strconv.Itoa(n)))
	}
	return magLogs
}

func rotateLogs() {
	magLogs := getMagLogFiles()

	// rename suffix, remove if > maxLogNum
	for i := len(magLogs) - 1; i >= 0; i-- {
		logNum := logSuffix(magLogs[i])
		if logNum >= maxLogNum {
			os.Remove(magLogs[i])
		} else {
			os.Rename(magLogs[i], filepath.Join(logDir, debugLogFile+"."+strconv.Itoa(logNum+1)))
		}
	}

	// Now rename current log file and re-open
	os.Rename(debugLogf, debugLogf+".1")
	openLogFile()
}

func deleteOldestLog() int64 {
	logs := getMagLogFiles()
	if len(logs) == 0 {
		return 0
	}
	oldest := logs[len(logs)-1]
	stat, err := os.Stat(oldest)
	if err != nil {
		return 0
	}
	if err = os.Remove(oldest); err != nil {
		return 0
	}
	return stat.Size()
}

func checkLogFiles() {
	logSize, err := os.Stat(debugLogf)
	if err == nil && logSize.Size() > maxLogSize {
		rotateLogs()
	}

	usage := du.NewDiskUsage(logDir)
	freeBytes := int64(usage.Free())
	for freeBytes < minFreeBytes {
		deleted := deleteOldestLog()
		if deleted == 0 {
			break
		}
		freeBytes += deleted
	}
}

func logFileWatcher() {
	for {
		checkLogFiles()
		time.Sleep(30 * time.Second)
	}
}

func openLogFile() {
	oldFp := logFileHandle
	debugLogf = filepath.Join(logDir, debugLogFile)
	fp, err := os.OpenFile(debugLogf, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		log.Printf("Failed to open '%s': %s\n", debugLogf, err.Error())
	} else {
		// Keep the logfile handle for later use
		logFileHandle = fp
		log.SetOutput(io.MultiWriter(fp, os.Stdout))
	}
	if oldFp != nil {
		oldFp.Close()
	}
}

func initLogging() {
	openLogFile()
	go logFileWatcher()
}
