// Package objsys provides the object runtime: a registry of single-inheritance
// class descriptors, reference-counted object instances with two-phase
// teardown, and hook dispatch for compare, print and copy.
package objsys
