package main

this file is never interpreted
