package common

import "os/user"

// IsRunningAsRoot reports whether the process may open /dev/gpiomem and the
// I2C device nodes without extra group setup.
func IsRunningAsRoot() bool {
	usr, err := user.Current()
	return err == nil && usr.Username == "root"
}
