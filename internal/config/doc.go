// Package config owns every configuration surface bidskit reads.
//
// Three layers exist, resolved once at the command boundary and passed down
// explicitly:
//
//   - the tool config (TOML): external binary names, docker images, logging
//     options, and acquisition defaults such as the AP phase-encoding code;
//   - the per-study config (JSON at <studydir>/code/config.json): the study
//     root and the heuristic file used by the converter;
//   - the acquisition parameter file (JSON at <studydir>/code/mp2rage.json)
//     consumed by the anatomical fix step.
//
// A small settings file under the user config dir records the active study
// so commands can run without --studydir from anywhere on the filesystem.
package config
