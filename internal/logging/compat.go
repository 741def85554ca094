package logging

import (
	"fmt"
	"os"
)

// These exist purely to ease call sites migrating from the standard 'log'
// package. Prefer the explicitly leveled API (log.Error(), log.Debug(), ...).

func (log *Logger) Fatal(v ...interface{}) {
	log.Log(Error, 1, "%s", fmt.Sprint(v...))
	os.Exit(1)
}

func (log *Logger) Fatalf(format string, v ...interface{}) {
	log.Log(Error, 1, format, v...)
	os.Exit(1)
}

func (log *Logger) Panic(v ...interface{}) {
	s := fmt.Sprint(v...)
	log.Log(Error, 1, "%s", s)
	panic(s)
}

func (log *Logger) Panicf(format string, v ...interface{}) {
	s := fmt.Sprintf(format, v...)
	log.Log(Error, 1, "%s", s)
	panic(s)
}

func (log *Logger) Print(v ...interface{}) {
	log.Log(Info, 1, "%s", fmt.Sprint(v...))
}

func (log *Logger) Printf(format string, v ...interface{}) {
	log.Log(Info, 1, format, v...)
}
