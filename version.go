package main

const Version = "v1.0.0"
