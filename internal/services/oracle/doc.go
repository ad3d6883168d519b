// Package oracle integrates with the generative vision API used to detect
// products and their on-screen timestamps in shopping videos.
package oracle
