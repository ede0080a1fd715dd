// Package model holds the entities shared by the access and batch layers.
package model
