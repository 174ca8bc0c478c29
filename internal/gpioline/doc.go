// Package gpioline wraps the Linux GPIO character device for the two kinds of lines
// the vehicle uses: H-bridge direction outputs and the sensor's data-ready interrupt.
//
// Pins use BCM numbering and are looked up by their "GPIO<n>" line name, which works
// across Pi 3/4/5 kernels regardless of which gpiochip exposes the header.
package gpioline
